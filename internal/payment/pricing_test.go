package payment

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/govsniper/govsniper/internal/config"
)

func TestPriceFor(t *testing.T) {
	cfg := config.PaymentConfig{PriceTier1: 990, PriceTier2: 1990, PriceTier3: 4990}

	cases := []struct {
		name  string
		price string
		want  int64
	}{
		{"small contract", "250000", 990},
		{"just below first threshold", "999999.99", 990},
		{"exactly one million", "1000000", 1990},
		{"mid tier", "5400000", 1990},
		{"just below second threshold", "9999999.99", 1990},
		{"exactly ten million", "10000000", 4990},
		{"large contract", "120000000", 4990},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			price := decimal.RequireFromString(tc.price)
			assert.True(t, PriceFor(price, cfg).Equal(decimal.NewFromInt(tc.want)))
		})
	}
}
