// Package pricing computes the price of a filing. Schema pricing evaluates the
// rule list against each person's own answers; the legacy mode charges flat
// fees per person and is used when a schema carries no pricing.
package pricing

import (
	"fmt"
	"math"
	"sort"

	"filing-engine/internal/conditional"
	"filing-engine/internal/model"
	"filing-engine/internal/schema"
)

const (
	DefaultTaxRate  = 0.13
	DefaultCurrency = "CAD"
)

type Mode string

const (
	ModeSchema Mode = "schema"
	ModeLegacy Mode = "legacy"
)

// Item is one priced contribution, labelled with the person or entity it belongs to.
type Item struct {
	Description      string  `json:"description"`
	Amount           float64 `json:"amount"`
	PersonalFilingID string  `json:"personalFilingId,omitempty"`
	RuleID           string  `json:"ruleId,omitempty"`
}

// PersonTotal is one person's share of the subtotal.
type PersonTotal struct {
	PersonalFilingID string  `json:"personalFilingId,omitempty"`
	Label            string  `json:"label"`
	Subtotal         float64 `json:"subtotal"`
}

type Breakdown struct {
	BaseFee  float64       `json:"baseFee"`
	Items    []Item        `json:"items"`
	People   []PersonTotal `json:"people"`
	Subtotal float64       `json:"subtotal"`
	TaxRate  float64       `json:"taxRate"`
	Tax      float64       `json:"tax"`
	Total    float64       `json:"total"`
	Currency string        `json:"currency"`
	Mode     Mode          `json:"mode"`
}

// Calculate prices the filing from the schema's pricing, or with the legacy
// flat fees when there is no schema or it has no pricing.
func Calculate(filing *model.Filing, sc *schema.Schema, fees LegacyFees) Breakdown {
	if sc == nil || sc.Pricing == nil {
		return CalculateLegacy(filing, fees)
	}
	return CalculateFromSchema(filing, sc)
}

// payer is whoever a set of items is charged to.
type payer struct {
	id    string
	role  model.Role
	label string
	data  model.FormData
}

// CalculateFromSchema prices every payer independently: the base fee plus
// every rule whose condition holds on that payer's own answers. Missing
// answers simply fail their conditions.
func CalculateFromSchema(filing *model.Filing, sc *schema.Schema) Breakdown {
	ps := schema.PricingSchema{}
	if sc != nil && sc.Pricing != nil {
		ps = *sc.Pricing
	}
	rate := DefaultTaxRate
	if ps.TaxRate != nil {
		rate = *ps.TaxRate
	}

	b := Breakdown{
		BaseFee:  ps.BaseFee,
		Currency: currency(ps.Currency),
		TaxRate:  rate,
		Mode:     ModeSchema,
		Items:    []Item{},
	}

	var subtotal int64
	for _, p := range payers(filing) {
		items, cents := pricePayer(p, ps)
		b.Items = append(b.Items, items...)
		b.People = append(b.People, PersonTotal{PersonalFilingID: p.id, Label: p.label, Subtotal: fromCents(cents)})
		subtotal += cents
	}
	b.finish(subtotal)
	return b
}

func pricePayer(p payer, ps schema.PricingSchema) ([]Item, int64) {
	items := []Item{{
		Description:      p.label + " - Base Fee",
		Amount:           ps.BaseFee,
		PersonalFilingID: p.id,
	}}
	cents := toCents(ps.BaseFee)

	for _, r := range ps.Rules {
		if !conditional.Match(&r.Condition, p.data) {
			continue
		}
		items = append(items, Item{
			Description:      fmt.Sprintf("%s - %s", p.label, r.Description),
			Amount:           r.Amount,
			PersonalFilingID: p.id,
			RuleID:           r.ID,
		})
		cents += toCents(r.Amount)
	}
	return items, cents
}

// payers lists who is charged: the entity of a corporate or trust filing, or
// every personal filing with primary first, then spouse, then dependents.
// A filing with nobody yet is charged once for the primary filer.
func payers(filing *model.Filing) []payer {
	if filing == nil {
		return []payer{{label: "Primary Filer"}}
	}

	switch filing.Type {
	case model.FilingCorporate, model.FilingTrust:
		p := payer{label: entityLabel(filing.Type)}
		if e := filing.Entity(); e != nil {
			p.id, p.data = e.ID, e.FormData
			if name := e.DisplayName(); name != "" {
				p.label = name
			}
		}
		return []payer{p}
	}

	people := make([]model.PersonalFiling, len(filing.PersonalFilings))
	copy(people, filing.PersonalFilings)
	sort.SliceStable(people, func(i, j int) bool { return roleRank(people[i].Type) < roleRank(people[j].Type) })

	if len(people) == 0 {
		return []payer{{label: "Primary Filer"}}
	}

	out := make([]payer, 0, len(people))
	dependents := 0
	for i := range people {
		p := &people[i]
		label := p.DisplayName()
		if p.Type == model.RoleDependent {
			dependents++
		}
		if label == "" {
			label = fallbackLabel(p.Type, dependents)
		}
		out = append(out, payer{id: p.ID, role: p.Type, label: label, data: p.FormData})
	}
	return out
}

func fallbackLabel(role model.Role, dependentN int) string {
	switch role {
	case model.RoleSpouse:
		return "Spouse"
	case model.RoleDependent:
		return fmt.Sprintf("Dependent %d", dependentN)
	}
	return "Primary Filer"
}

func entityLabel(ft model.FilingType) string {
	if ft == model.FilingTrust {
		return "Trust"
	}
	return "Corporation"
}

func roleRank(r model.Role) int {
	switch r {
	case model.RolePrimary:
		return 0
	case model.RoleSpouse:
		return 1
	}
	return 2
}

func currency(c string) string {
	if c == "" {
		return DefaultCurrency
	}
	return c
}

// finish sets subtotal, tax and total. Tax is rounded half away from zero to
// the cent; the total is the sum of the two rounded amounts.
func (b *Breakdown) finish(subtotal int64) {
	tax := int64(math.Round(float64(subtotal) * b.TaxRate))
	b.Subtotal = fromCents(subtotal)
	b.Tax = fromCents(tax)
	b.Total = fromCents(subtotal + tax)
}

func toCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

func fromCents(c int64) float64 {
	return float64(c) / 100
}
