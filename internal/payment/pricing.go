package payment

import (
	"github.com/shopspring/decimal"

	"github.com/govsniper/govsniper/internal/config"
)

var (
	tier2Threshold = decimal.NewFromInt(1_000_000)
	tier3Threshold = decimal.NewFromInt(10_000_000)
)

// PriceFor returns the report price for a tender of the given value. Larger
// contracts carry a deeper audit and a higher price.
func PriceFor(tenderPrice decimal.Decimal, cfg config.PaymentConfig) decimal.Decimal {
	switch {
	case tenderPrice.GreaterThanOrEqual(tier3Threshold):
		return decimal.NewFromInt(cfg.PriceTier3)
	case tenderPrice.GreaterThanOrEqual(tier2Threshold):
		return decimal.NewFromInt(cfg.PriceTier2)
	default:
		return decimal.NewFromInt(cfg.PriceTier1)
	}
}
