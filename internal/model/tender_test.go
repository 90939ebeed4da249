package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenderTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    TenderStatus
		to      TenderStatus
		allowed bool
	}{
		{"pending to analyzed", TenderStatusPending, TenderStatusAnalyzed, true},
		{"pending to rejected", TenderStatusPending, TenderStatusRejected, true},
		{"analyzed to notified", TenderStatusAnalyzed, TenderStatusNotified, true},
		{"notified to sold", TenderStatusNotified, TenderStatusSold, true},
		{"sold to archived", TenderStatusSold, TenderStatusArchived, true},
		{"pending cannot skip to notified", TenderStatusPending, TenderStatusNotified, false},
		{"pending cannot skip to sold", TenderStatusPending, TenderStatusSold, false},
		{"analyzed cannot skip to sold", TenderStatusAnalyzed, TenderStatusSold, false},
		{"rejected is terminal", TenderStatusRejected, TenderStatusAnalyzed, false},
		{"rejected cannot be notified", TenderStatusRejected, TenderStatusNotified, false},
		{"archived is terminal", TenderStatusArchived, TenderStatusSold, false},
		{"no backwards edge", TenderStatusNotified, TenderStatusAnalyzed, false},
		{"analyzed cannot be rejected", TenderStatusAnalyzed, TenderStatusRejected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestTenderStatusTerminal(t *testing.T) {
	assert.True(t, TenderStatusRejected.Terminal())
	assert.True(t, TenderStatusSold.Terminal())
	assert.True(t, TenderStatusArchived.Terminal())
	assert.False(t, TenderStatusPending.Terminal())
	assert.False(t, TenderStatusAnalyzed.Terminal())
	assert.False(t, TenderStatusNotified.Terminal())
}
