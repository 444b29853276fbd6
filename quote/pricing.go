package quote

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/vitwit/x402pay/types"
)

// PriceTable resolves plan keys to prices and credit grants.
type PriceTable interface {
	Lookup(planKey string) (types.Plan, bool)
	Plans() []types.Plan
}

// StaticPriceTable is an immutable in-memory PriceTable.
type StaticPriceTable struct {
	plans map[string]types.Plan
}

func NewStaticPriceTable(plans ...types.Plan) *StaticPriceTable {
	t := &StaticPriceTable{plans: make(map[string]types.Plan, len(plans))}
	for _, p := range plans {
		t.plans[p.Key] = p
	}
	return t
}

// DefaultPlans is the stock price list.
func DefaultPlans() []types.Plan {
	return []types.Plan{
		{Key: "free", Name: "Free", Price: decimal.Zero, Credits: 3, Period: "day", Free: true},
		{Key: "lite", Name: "Lite", Price: decimal.RequireFromString("0.49"), Credits: 20, Period: "one-time"},
		{Key: "pro", Name: "Pro", Price: decimal.RequireFromString("1.49"), Credits: 100, Period: "one-time"},
		{Key: "unlimited", Name: "Unlimited", Price: decimal.RequireFromString("4.90"), Credits: types.UnlimitedCredits, Period: "month", Unlimited: true},
	}
}

func DefaultPriceTable() *StaticPriceTable {
	return NewStaticPriceTable(DefaultPlans()...)
}

func (t *StaticPriceTable) Lookup(planKey string) (types.Plan, bool) {
	p, ok := t.plans[planKey]
	return p, ok
}

// Plans lists plans cheapest first.
func (t *StaticPriceTable) Plans() []types.Plan {
	out := make([]types.Plan, 0, len(t.plans))
	for _, p := range t.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price.Equal(out[j].Price) {
			return out[i].Key < out[j].Key
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}
