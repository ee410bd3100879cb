package pricing

import "filing-engine/internal/model"

// LegacyFees are the flat whole-filing fees charged when a schema has no
// pricing. Spouses and dependents pay their flat fee whatever they answered.
type LegacyFees struct {
	Base      float64 `json:"base" yaml:"base"`
	Spouse    float64 `json:"spouse" yaml:"spouse"`
	Dependent float64 `json:"dependent" yaml:"dependent"`
	TaxRate   float64 `json:"taxRate" yaml:"taxRate"`
	Currency  string  `json:"currency" yaml:"currency"`
}

var DefaultLegacyFees = LegacyFees{
	Base:      149.99,
	Spouse:    99.99,
	Dependent: 49.99,
	TaxRate:   DefaultTaxRate,
	Currency:  DefaultCurrency,
}

// CalculateLegacy prices the filing with flat fees. Entity filings pay the
// base fee once.
func CalculateLegacy(filing *model.Filing, fees LegacyFees) Breakdown {
	b := Breakdown{
		BaseFee:  fees.Base,
		Currency: currency(fees.Currency),
		TaxRate:  fees.TaxRate,
		Mode:     ModeLegacy,
		Items:    []Item{},
	}

	var subtotal int64
	charge := func(p payer, description string, amount float64) {
		b.Items = append(b.Items, Item{Description: description, Amount: amount, PersonalFilingID: p.id})
		b.People = append(b.People, PersonTotal{PersonalFilingID: p.id, Label: p.label, Subtotal: amount})
		subtotal += toCents(amount)
	}

	individual := filing == nil || filing.Type == model.FilingIndividual || filing.Type == ""
	if !individual {
		p := payers(filing)[0]
		charge(p, p.label+" - Base Fee", fees.Base)
		b.finish(subtotal)
		return b
	}

	var spouse *payer
	var dependents []payer
	primary := payer{label: "Primary Filer"}
	ps := payers(filing)
	for i := range ps {
		switch ps[i].role {
		case model.RoleSpouse:
			spouse = &ps[i]
		case model.RoleDependent:
			dependents = append(dependents, ps[i])
		default:
			primary = ps[i]
		}
	}

	charge(primary, "Base Filing Fee", fees.Base)
	if spouse != nil {
		charge(*spouse, "Spouse Filing", fees.Spouse)
	}
	for _, d := range dependents {
		charge(d, "Dependent Filing - "+d.label, fees.Dependent)
	}
	b.finish(subtotal)
	return b
}
