package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/billingcp/registry"
	"github.com/faizanahmed09/secure-reset-approval-flow-sub000/internal/logging"
	"github.com/spf13/cobra"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "billing-cp",
	Short:   "Billing control plane - seat-based subscription accounting",
	Long:    `billing-cp tracks organization subscriptions, counts billable seats, and keeps Stripe quantities in step with the roster.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return billingcp.Run(cmd.Context(), Version)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control plane",
	RunE: func(cmd *cobra.Command, args []string) error {
		return billingcp.Run(cmd.Context(), Version)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "billing-cp %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Fprintf(out, "Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Fprintf(out, "Commit: %s\n", GitCommit)
		}
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Restrict expired trials and lapsed cancellations once, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(ctx context.Context, services *billingcp.Services) error {
			restricted, err := services.Sweeper.SweepOnce(ctx)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restricted %d subscription(s)\n", restricted)
			return nil
		})
	},
}

var (
	provisionName       string
	provisionAdminEmail string
	provisionAdminName  string
	provisionTrialDays  int
)

var provisionCmd = &cobra.Command{
	Use:   "provision-org",
	Short: "Create an organization with a trial subscription and its first admin",
	RunE: func(cmd *cobra.Command, args []string) error {
		if provisionTrialDays < 0 {
			return fmt.Errorf("--trial-days must not be negative")
		}
		return withServices(cmd.Context(), func(ctx context.Context, services *billingcp.Services) error {
			out, err := billingcp.ProvisionOrganization(ctx, services.Store, billingcp.ProvisionRequest{
				Name:          provisionName,
				AdminEmail:    provisionAdminEmail,
				AdminName:     provisionAdminName,
				TrialDuration: time.Duration(provisionTrialDays) * 24 * time.Hour,
			}, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		})
	},
}

var seatsOrg string

var seatsCmd = &cobra.Command{
	Use:   "seats",
	Short: "Show the seat summary of an organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(seatsOrg) == "" {
			return fmt.Errorf("--org is required")
		}
		return withServices(cmd.Context(), func(ctx context.Context, services *billingcp.Services) error {
			summary, err := services.Seats.OrganizationSummary(ctx, seatsOrg)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		})
	},
}

func init() {
	provisionCmd.Flags().StringVar(&provisionName, "name", "", "organization name")
	provisionCmd.Flags().StringVar(&provisionAdminEmail, "admin-email", "", "email of the first admin")
	provisionCmd.Flags().StringVar(&provisionAdminName, "admin-name", "", "display name of the first admin")
	provisionCmd.Flags().IntVar(&provisionTrialDays, "trial-days", 0, "trial length in days (0 uses the default)")
	seatsCmd.Flags().StringVar(&seatsOrg, "org", "", "organization id")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(seatsCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withServices opens the registry for an offline operator command. These
// commands never reach Stripe, so only local configuration is validated.
func withServices(ctx context.Context, fn func(context.Context, *billingcp.Services) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := billingcp.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     "warn",
		Component: "billing-cp",
	})

	store, err := billingcp.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func(s registry.Store) { _ = s.Close() }(store)

	services, err := billingcp.NewServices(cfg, store, nil, nil)
	if err != nil {
		return err
	}
	return fn(ctx, services)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
