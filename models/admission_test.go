package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/photoid_backend/config"
	"bitbucket.org/mmdatafocus/photoid_backend/models"
)

func TestPhotoIDRequired(t *testing.T) {
	base := config.Settings{
		Enabled:           true,
		ExemptCategoryIDs: []int{10, 11},
		ExemptProductIDs:  []int{100},
	}
	disabled := base
	disabled.Enabled = false

	cart := func(items ...models.CartItem) []models.CartItem { return items }

	cases := []struct {
		name     string
		settings config.Settings
		items    []models.CartItem
		want     bool
	}{
		{"plain cart requires id", base, cart(models.CartItem{ProductID: 1}), true},
		{"feature disabled", disabled, cart(models.CartItem{ProductID: 1}), false},
		{"empty cart", base, nil, false},
		{"exempt product waives", base, cart(
			models.CartItem{ProductID: 1},
			models.CartItem{ProductID: 100},
		), false},
		{"exempt category waives", base, cart(
			models.CartItem{ProductID: 1, CategoryIDs: []int{5, 11}},
		), false},
		{"non-exempt categories", base, cart(
			models.CartItem{ProductID: 1, CategoryIDs: []int{5, 6}},
			models.CartItem{ProductID: 2, CategoryIDs: []int{7}},
		), true},
		{"no exemptions configured", config.Settings{Enabled: true}, cart(models.CartItem{ProductID: 100}), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := models.PhotoIDRequired(tc.items, tc.settings); got != tc.want {
				t.Fatalf("PhotoIDRequired = %v, want %v", got, tc.want)
			}
		})
	}
}
