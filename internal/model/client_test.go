package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestClientMatches(t *testing.T) {
	base := Client{
		Active:   true,
		Keywords: []string{"сервер", "компьютер"},
	}

	t.Run("keyword in title", func(t *testing.T) {
		c := base
		assert.True(t, c.Matches("Поставка серверного оборудования", "", dec("500000")))
	})

	t.Run("keyword case insensitive", func(t *testing.T) {
		c := base
		c.Keywords = []string{"СЕРВЕР"}
		assert.True(t, c.Matches("поставка серверов", "", dec("500000")))
	})

	t.Run("keyword in category", func(t *testing.T) {
		c := base
		assert.True(t, c.Matches("Закупка оборудования", "компьютерная техника", dec("500000")))
	})

	t.Run("no keyword match", func(t *testing.T) {
		c := base
		assert.False(t, c.Matches("Уборка помещений", "", dec("500000")))
	})

	t.Run("inactive never matches", func(t *testing.T) {
		c := base
		c.Active = false
		assert.False(t, c.Matches("Поставка серверов", "", dec("500000")))
	})

	t.Run("price below min", func(t *testing.T) {
		c := base
		c.MinPrice = decPtr("1000000")
		assert.False(t, c.Matches("Поставка серверов", "", dec("500000")))
	})

	t.Run("price above max", func(t *testing.T) {
		c := base
		c.MaxPrice = decPtr("100000")
		assert.False(t, c.Matches("Поставка серверов", "", dec("500000")))
	})

	t.Run("open ended bounds", func(t *testing.T) {
		c := base
		assert.True(t, c.Matches("Поставка серверов", "", dec("999999999")))
	})

	t.Run("price at inclusive bounds", func(t *testing.T) {
		c := base
		c.MinPrice = decPtr("500000")
		c.MaxPrice = decPtr("500000")
		assert.True(t, c.Matches("Поставка серверов", "", dec("500000")))
	})

	t.Run("empty keyword ignored", func(t *testing.T) {
		c := base
		c.Keywords = []string{"", "  ", "сервер"}
		assert.True(t, c.Matches("Поставка серверов", "", dec("500000")))
	})
}
