package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPriceTable(t *testing.T) {
	table, err := NewPriceTable([]TierDescriptor{
		{PriceID: "price_basic", Plan: "starter"},
		{PriceID: " price_pro ", Plan: PlanProfessional, SeatPriceCts: 1500},
		{PriceID: "price_ent", Plan: "enterprise", DisplayName: "Enterprise"},
	}, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())

	tier, ok := table.Lookup("price_basic")
	require.True(t, ok)
	assert.Equal(t, PlanBasic, tier.Plan)
	assert.Equal(t, DefaultSeatPriceCents, tier.SeatPriceCts)

	tier, ok = table.Lookup("price_pro")
	require.True(t, ok)
	assert.Equal(t, int64(1500), tier.SeatPriceCts)
}

func TestNewPriceTable_Rejects(t *testing.T) {
	tests := []struct {
		name        string
		tiers       []TierDescriptor
		defaultPlan PlanName
	}{
		{name: "missing price id", tiers: []TierDescriptor{{Plan: PlanBasic}}},
		{name: "unpaid plan", tiers: []TierDescriptor{{PriceID: "p", Plan: PlanTrial}}},
		{name: "restricted plan", tiers: []TierDescriptor{{PriceID: "p", Plan: PlanRestricted}}},
		{name: "duplicate", tiers: []TierDescriptor{{PriceID: "p", Plan: PlanBasic}, {PriceID: "p", Plan: PlanEnterprise}}},
		{name: "unpaid default", defaultPlan: PlanTrial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPriceTable(tt.tiers, tt.defaultPlan, 0)
			assert.Error(t, err)
		})
	}
}

func TestPriceTableResolvePlan(t *testing.T) {
	table, err := NewPriceTable([]TierDescriptor{
		{PriceID: "price_pro", Plan: PlanProfessional, SeatPriceCts: 1500},
	}, PlanBasic, 900)
	require.NoError(t, err)

	assert.Equal(t, PlanProfessional, table.ResolvePlan("price_pro", map[string]string{"plan": "ENTERPRISE"}))
	assert.Equal(t, PlanEnterprise, table.ResolvePlan("price_unknown", map[string]string{"plan": "enterprise"}))
	assert.Equal(t, PlanBasic, table.ResolvePlan("price_unknown", map[string]string{"plan": "TRIAL"}))
	assert.Equal(t, PlanBasic, table.ResolvePlan("price_unknown", nil))

	assert.Equal(t, int64(1500), table.SeatPrice("price_pro"))
	assert.Equal(t, int64(900), table.SeatPrice("price_unknown"))

	var none *PriceTable
	assert.Equal(t, PlanBasic, none.ResolvePlan("x", nil))
	assert.Equal(t, DefaultSeatPriceCents, none.SeatPrice("x"))
	assert.Zero(t, none.Len())
}

func TestDefaultPriceTable(t *testing.T) {
	table := DefaultPriceTable()
	require.NotNil(t, table)
	assert.Same(t, table, table.PriceTable())
	assert.Equal(t, PlanBasic, table.ResolvePlan("price_anything", nil))
	assert.Equal(t, DefaultSeatPriceCents, table.SeatPrice("price_anything"))
}
