package domain

// PriceImpactRule enumerates how a personalization input affects price.
type PriceImpactRule string

const (
	PriceImpactNone         PriceImpactRule = "none"
	PriceImpactFixed        PriceImpactRule = "fixed"
	PriceImpactPercentage   PriceImpactRule = "percentage"
	PriceImpactPerCharacter PriceImpactRule = "per_character"
	PriceImpactPerImage     PriceImpactRule = "per_image"
)

// PriceImpact declares the pricing rule attached to a personalization config.
// Amount is the unit rate in the smallest currency unit; Percent applies only
// to the percentage rule and is deferred to order-total computation.
type PriceImpact struct {
	Rule     PriceImpactRule
	Amount   int64
	Percent  float64
	Currency string
}

// PriceImpactBreakdown records a computed impact for one submission so that
// live previews and snapshot totals agree on the same inputs.
type PriceImpactBreakdown struct {
	ConfigID    string
	Rule        PriceImpactRule
	Units       int
	UnitAmount  int64
	Amount      int64
	Currency    string
	Description string
}
