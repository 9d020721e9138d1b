package tier_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxishq/entitle/tier"
	"github.com/praxishq/entitle/usage"
)

func TestDefaultCatalog(t *testing.T) {
	c := tier.DefaultCatalog()

	list := c.List()
	require.Len(t, list, 4)
	assert.Equal(t, tier.Free, list[0].ID)
	assert.Equal(t, tier.Solo, list[1].ID)
	assert.Equal(t, tier.Group, list[2].ID)
	assert.Equal(t, tier.Enterprise, list[3].ID)

	solo, err := c.Get(tier.Solo)
	require.NoError(t, err)
	assert.Equal(t, int64(100), solo.Quota(usage.ActionConversation))
	assert.Equal(t, 1, solo.Seats)
	assert.True(t, solo.Has(tier.CapabilityExports))
	assert.False(t, solo.Has(tier.CapabilityTeamSeats))

	ent, err := c.Get(tier.Enterprise)
	require.NoError(t, err)
	assert.Equal(t, usage.Unlimited, ent.Quota(usage.ActionConversation))
}

func TestCatalogGetUnknown(t *testing.T) {
	c := tier.DefaultCatalog()

	_, err := c.Get("platinum")
	assert.ErrorIs(t, err, tier.ErrNotFound)
}

func TestQuotaAbsentActionDenied(t *testing.T) {
	c := tier.DefaultCatalog()

	free, err := c.Get(tier.Free)
	require.NoError(t, err)
	assert.Equal(t, int64(0), free.Quota(usage.ActionExport))
}

func TestNewCatalogValidation(t *testing.T) {
	_, err := tier.NewCatalog(tier.Tier{ID: ""})
	assert.Error(t, err)

	_, err = tier.NewCatalog(tier.Tier{ID: "solo"}, tier.Tier{ID: "solo"})
	assert.Error(t, err)
}

func TestByPriceID(t *testing.T) {
	c := tier.DefaultCatalog()

	got, annual, err := c.ByPriceID("price_group_annual")
	require.NoError(t, err)
	assert.Equal(t, tier.Group, got.ID)
	assert.True(t, annual)

	got, annual, err = c.ByPriceID("price_solo_monthly")
	require.NoError(t, err)
	assert.Equal(t, tier.Solo, got.ID)
	assert.False(t, annual)

	_, _, err = c.ByPriceID("price_unknown")
	assert.ErrorIs(t, err, tier.ErrNotFound)

	_, _, err = c.ByPriceID("")
	assert.ErrorIs(t, err, tier.ErrNotFound)
}

func TestPriceID(t *testing.T) {
	c := tier.DefaultCatalog()

	solo, err := c.Get(tier.Solo)
	require.NoError(t, err)
	assert.Equal(t, "price_solo_monthly", solo.PriceID(false))
	assert.Equal(t, "price_solo_annual", solo.PriceID(true))

	free, err := c.Get(tier.Free)
	require.NoError(t, err)
	assert.Equal(t, "", free.PriceID(false))
}

func TestListReturnsCopy(t *testing.T) {
	c := tier.DefaultCatalog()

	list := c.List()
	list[0].Name = "mutated"

	fresh := c.List()
	assert.Equal(t, "Free", fresh[0].Name)
}
