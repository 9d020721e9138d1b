// Package tier holds the immutable subscription tier catalog. The
// catalog is the single source of truth for prices, seats, quotas, and
// capabilities; it is loaded at startup and never mutated at runtime.
package tier

import (
	"errors"

	"github.com/praxishq/entitle/types"
	"github.com/praxishq/entitle/usage"
)

// ErrNotFound is returned for an unknown tier id.
var ErrNotFound = errors.New("tier: unknown tier")

// Capability is a closed, tagged tier feature. Entitlement logic
// pattern-matches on these values instead of comparing free-form
// feature strings.
type Capability string

const (
	CapabilityExports        Capability = "exports"
	CapabilityTeamSeats      Capability = "team_seats"
	CapabilityAPIAccess      Capability = "api_access"
	CapabilityCustomBranding Capability = "custom_branding"
	CapabilityPriorityQueue  Capability = "priority_queue"
)

// Tier is one immutable catalog entry.
type Tier struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	MonthlyPrice types.Money `json:"monthly_price"`
	AnnualPrice  types.Money `json:"annual_price"`
	// Provider price identifiers, consumed by the billing gateway when
	// building checkout sessions.
	MonthlyPriceID string                     `json:"monthly_price_id,omitempty"`
	AnnualPriceID  string                     `json:"annual_price_id,omitempty"`
	Seats          int                        `json:"seats"`
	Quotas         map[usage.ActionKind]int64 `json:"quotas"`
	Capabilities   []Capability               `json:"capabilities"`
}

// Quota returns the per-period quota for a metered action. An action
// absent from the tier's quota table has quota 0 (always denied).
// usage.Unlimited always allows.
func (t Tier) Quota(action usage.ActionKind) int64 {
	q, ok := t.Quotas[action]
	if !ok {
		return 0
	}
	return q
}

// Has reports whether the tier carries a capability.
func (t Tier) Has(c Capability) bool {
	for _, have := range t.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// PriceID returns the provider price identifier for a billing cadence
// ("monthly" or "annual" per subscription.Cadence values).
func (t Tier) PriceID(annual bool) string {
	if annual {
		return t.AnnualPriceID
	}
	return t.MonthlyPriceID
}

// Catalog is an ordered, immutable set of tiers.
type Catalog struct {
	ordered []Tier
	index   map[string]Tier
}

// NewCatalog builds a catalog from tiers in the given display order.
// Tier ids must be unique and non-empty.
func NewCatalog(tiers ...Tier) (*Catalog, error) {
	c := &Catalog{
		ordered: make([]Tier, 0, len(tiers)),
		index:   make(map[string]Tier, len(tiers)),
	}
	for _, t := range tiers {
		if t.ID == "" {
			return nil, errors.New("tier: catalog entry with empty id")
		}
		if _, dup := c.index[t.ID]; dup {
			return nil, errors.New("tier: duplicate catalog entry " + t.ID)
		}
		c.ordered = append(c.ordered, t)
		c.index[t.ID] = t
	}
	return c, nil
}

// MustCatalog is like NewCatalog but panics on error. Use for static
// catalog definitions.
func MustCatalog(tiers ...Tier) *Catalog {
	c, err := NewCatalog(tiers...)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the tier with the given id, or ErrNotFound.
func (c *Catalog) Get(tierID string) (Tier, error) {
	t, ok := c.index[tierID]
	if !ok {
		return Tier{}, ErrNotFound
	}
	return t, nil
}

// List returns all tiers in display order. The returned slice is a copy.
func (c *Catalog) List() []Tier {
	out := make([]Tier, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// ByPriceID resolves a provider price identifier back to its tier and
// cadence. Returns ErrNotFound for an unknown price id.
func (c *Catalog) ByPriceID(priceID string) (Tier, bool, error) {
	if priceID == "" {
		return Tier{}, false, ErrNotFound
	}
	for _, t := range c.ordered {
		if t.MonthlyPriceID == priceID {
			return t, false, nil
		}
		if t.AnnualPriceID == priceID {
			return t, true, nil
		}
	}
	return Tier{}, false, ErrNotFound
}

// Default tier ids.
const (
	Free       = "free"
	Solo       = "solo"
	Group      = "group"
	Enterprise = "enterprise"
)

// DefaultCatalog returns the built-in catalog: free, solo, group,
// enterprise. Quotas are per billing period.
func DefaultCatalog() *Catalog {
	return MustCatalog(
		Tier{
			ID:           Free,
			Name:         "Free",
			MonthlyPrice: types.USD(0),
			AnnualPrice:  types.USD(0),
			Seats:        1,
			Quotas: map[usage.ActionKind]int64{
				usage.ActionConversation: 10,
				usage.ActionMessage:      200,
			},
		},
		Tier{
			ID:             Solo,
			Name:           "Solo",
			MonthlyPrice:   types.USD(2900),
			AnnualPrice:    types.USD(29000),
			MonthlyPriceID: "price_solo_monthly",
			AnnualPriceID:  "price_solo_annual",
			Seats:          1,
			Quotas: map[usage.ActionKind]int64{
				usage.ActionConversation: 100,
				usage.ActionMessage:      2000,
				usage.ActionExport:       10,
			},
			Capabilities: []Capability{CapabilityExports},
		},
		Tier{
			ID:             Group,
			Name:           "Group",
			MonthlyPrice:   types.USD(7900),
			AnnualPrice:    types.USD(79000),
			MonthlyPriceID: "price_group_monthly",
			AnnualPriceID:  "price_group_annual",
			Seats:          5,
			Quotas: map[usage.ActionKind]int64{
				usage.ActionConversation: 500,
				usage.ActionMessage:      10000,
				usage.ActionExport:       50,
			},
			Capabilities: []Capability{
				CapabilityExports,
				CapabilityTeamSeats,
				CapabilityAPIAccess,
			},
		},
		Tier{
			ID:             Enterprise,
			Name:           "Enterprise",
			MonthlyPrice:   types.USD(19900),
			AnnualPrice:    types.USD(199000),
			MonthlyPriceID: "price_enterprise_monthly",
			AnnualPriceID:  "price_enterprise_annual",
			Seats:          25,
			Quotas: map[usage.ActionKind]int64{
				usage.ActionConversation: usage.Unlimited,
				usage.ActionMessage:      usage.Unlimited,
				usage.ActionExport:       usage.Unlimited,
			},
			Capabilities: []Capability{
				CapabilityExports,
				CapabilityTeamSeats,
				CapabilityAPIAccess,
				CapabilityCustomBranding,
				CapabilityPriorityQueue,
			},
		},
	)
}
