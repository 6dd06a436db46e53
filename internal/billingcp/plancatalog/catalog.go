// Package plancatalog loads the Stripe price-id to plan-tier table from YAML
// and keeps it current while the file changes on disk.
package plancatalog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/pkg/billing"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const defaultDebounce = 500 * time.Millisecond

// File is the on-disk shape of a price table.
//
//	default_plan: BASIC
//	default_seat_price_cents: 1000
//	tiers:
//	  - price_id: price_123
//	    plan: PROFESSIONAL
//	    seat_price_cents: 1500
type File struct {
	DefaultPlan           billing.PlanName         `yaml:"default_plan"`
	DefaultSeatPriceCents int64                    `yaml:"default_seat_price_cents"`
	Tiers                 []billing.TierDescriptor `yaml:"tiers"`
}

// Parse decodes and validates a YAML price table. fallbackSeatPrice applies
// when the file does not set a default seat price.
func Parse(data []byte, fallbackSeatPrice int64) (*billing.PriceTable, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return billing.NewPriceTable(nil, billing.PlanBasic, fallbackSeatPrice)
		}
		return nil, fmt.Errorf("decode price table: %w", err)
	}
	seatPrice := f.DefaultSeatPriceCents
	if seatPrice <= 0 {
		seatPrice = fallbackSeatPrice
	}
	table, err := billing.NewPriceTable(f.Tiers, f.DefaultPlan, seatPrice)
	if err != nil {
		return nil, fmt.Errorf("validate price table: %w", err)
	}
	return table, nil
}

// Catalog serves the current price table and swaps it atomically on reload.
type Catalog struct {
	path              string
	fallbackSeatPrice int64
	debounce          time.Duration

	current  atomic.Pointer[billing.PriceTable]
	mu       sync.Mutex
	lastHash string
}

var _ billing.PriceTableSource = (*Catalog)(nil)

// New loads the catalog at path. An empty path yields a static default table
// that maps every price to BASIC at fallbackSeatPrice.
func New(path string, fallbackSeatPrice int64) (*Catalog, error) {
	c := &Catalog{
		path:              strings.TrimSpace(path),
		fallbackSeatPrice: fallbackSeatPrice,
		debounce:          defaultDebounce,
	}
	if c.path == "" {
		table, err := billing.NewPriceTable(nil, billing.PlanBasic, fallbackSeatPrice)
		if err != nil {
			return nil, err
		}
		c.current.Store(table)
		return c, nil
	}
	if _, err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// PriceTable returns the table currently in force.
func (c *Catalog) PriceTable() *billing.PriceTable {
	return c.current.Load()
}

// Path returns the watched file, or "" for a static catalog.
func (c *Catalog) Path() string {
	return c.path
}

// Reload re-reads the file and reports whether the table changed. An invalid
// file leaves the previous table in force.
func (c *Catalog) Reload() (bool, error) {
	if c.path == "" {
		return false, nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return false, fmt.Errorf("read price table %s: %w", c.path, err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()
	if hash == c.lastHash {
		return false, nil
	}
	table, err := Parse(data, c.fallbackSeatPrice)
	if err != nil {
		return false, fmt.Errorf("load price table %s: %w", c.path, err)
	}
	c.current.Store(table)
	c.lastHash = hash
	return true, nil
}

// Watch reloads the catalog whenever its file changes until ctx is canceled.
// The containing directory is watched so editor rename-over saves are seen.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		<-ctx.Done()
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("price table watcher: create fsnotify: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(c.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("price table watcher: watch %s: %w", dir, err)
	}

	target := filepath.Clean(c.path)
	ticker := time.NewTicker(c.debounce)
	defer ticker.Stop()

	var pendingSince time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target && filepath.Base(event.Name) != "..data" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pendingSince = time.Now()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Str("path", c.path).Msg("Price table watcher error")

		case <-ticker.C:
			if pendingSince.IsZero() || time.Since(pendingSince) < c.debounce {
				continue
			}
			pendingSince = time.Time{}
			changed, err := c.Reload()
			if err != nil {
				log.Warn().Err(err).Str("path", c.path).Msg("Price table reload failed; keeping previous table")
				continue
			}
			if changed {
				log.Info().Str("path", c.path).Int("tiers", c.PriceTable().Len()).Msg("Price table reloaded")
			}
		}
	}
}
