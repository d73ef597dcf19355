package gateway

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     int64
	}{
		{"19.99", "USD", 1999},
		{"19.99", "usd", 1999},
		{"0.50", "EUR", 50},
		{"10", "GBP", 1000},
		{"0.005", "USD", 1},
		{"1500", "JPY", 1500},
		{"1500.6", "jpy", 1501},
		{"0", "USD", 0},
	}
	for _, tt := range tests {
		t.Run(tt.amount+" "+tt.currency, func(t *testing.T) {
			assert.Equal(t, tt.want, MinorUnits(decimal.RequireFromString(tt.amount), tt.currency))
		})
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   string
		currency string
		want     string
	}{
		{"19.99", "USD", "19.99"},
		{"10", "EUR", "10.00"},
		{"0.005", "USD", "0.01"},
		{"1500", "JPY", "1500"},
		{"1500.6", "jpy", "1501"},
		{"2500.40", "KRW", "2500"},
	}
	for _, tt := range tests {
		t.Run(tt.amount+" "+tt.currency, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAmount(decimal.RequireFromString(tt.amount), tt.currency))
		})
	}
}
