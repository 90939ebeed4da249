package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaymentTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    PaymentStatus
		to      PaymentStatus
		allowed bool
	}{
		{"pending to succeeded", PaymentStatusPending, PaymentStatusSucceeded, true},
		{"pending to canceled", PaymentStatusPending, PaymentStatusCanceled, true},
		{"succeeded to canceled", PaymentStatusSucceeded, PaymentStatusCanceled, true},
		{"succeeded to refunded", PaymentStatusSucceeded, PaymentStatusRefunded, true},
		{"canceled cannot succeed", PaymentStatusCanceled, PaymentStatusSucceeded, false},
		{"refunded is terminal", PaymentStatusRefunded, PaymentStatusSucceeded, false},
		{"pending cannot refund", PaymentStatusPending, PaymentStatusRefunded, false},
		{"no self loop", PaymentStatusSucceeded, PaymentStatusSucceeded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}
