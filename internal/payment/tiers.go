package payment

import "github.com/meridianpay/x402-wallet/internal/errs"

// Tier describes one paid content level served by the content server.
type Tier struct {
	Name        string
	Path        string
	Price       float64 // in whole tokens
	AmountWei   string  // in base units (6-decimal USDC)
	Description string
}

var tiers = map[string]Tier{
	"protected": {
		Name:        "protected",
		Path:        "/protected",
		Price:       0.01,
		AmountWei:   "10000",
		Description: "Basic premium content",
	},
	"premium": {
		Name:        "premium",
		Path:        "/premium",
		Price:       0.1,
		AmountWei:   "100000",
		Description: "Premium plus content with advanced analytics",
	},
	"enterprise": {
		Name:        "enterprise",
		Path:        "/enterprise",
		Price:       1.0,
		AmountWei:   "1000000",
		Description: "Enterprise content with exclusive insights",
	},
}

// tierAliases maps the CLI's tierN shorthand onto tier names.
var tierAliases = map[string]string{
	"tier1": "protected",
	"tier2": "premium",
	"tier3": "enterprise",
	"basic": "protected",
}

// LookupTier resolves a tier name or alias.
func LookupTier(name string) (Tier, error) {
	if canonical, ok := tierAliases[name]; ok {
		name = canonical
	}
	tier, ok := tiers[name]
	if !ok {
		return Tier{}, errs.Validation("unknown content tier %q", name)
	}
	return tier, nil
}

// Tiers returns all known tiers keyed by name.
func Tiers() map[string]Tier {
	out := make(map[string]Tier, len(tiers))
	for name, tier := range tiers {
		out[name] = tier
	}
	return out
}
