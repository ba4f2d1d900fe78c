package models

import (
	"bitbucket.org/mmdatafocus/photoid_backend/config"
)

// CartItem is the policy's view of one checkout line: what product it is
// and which categories it belongs to. Both the requirement-render endpoint
// and order finalization feed the same shape in, so the two evaluations
// cannot diverge structurally; finalization is authoritative when the cart
// changed in between.
type CartItem struct {
	ProductID   int
	CategoryIDs []int
}

// PhotoIDRequired decides whether the cart must collect a photo ID. Pure
// function of the line items and settings; never cached.
//
// Disabled feature or any exempt product/category in the cart waives the
// requirement; otherwise a non-empty cart requires an ID.
func PhotoIDRequired(items []CartItem, s config.Settings) bool {
	if !s.Enabled {
		return false
	}
	if len(items) == 0 {
		return false
	}

	exemptProducts := make(map[int]bool, len(s.ExemptProductIDs))
	for _, id := range s.ExemptProductIDs {
		exemptProducts[id] = true
	}
	exemptCategories := make(map[int]bool, len(s.ExemptCategoryIDs))
	for _, id := range s.ExemptCategoryIDs {
		exemptCategories[id] = true
	}

	for _, item := range items {
		if exemptProducts[item.ProductID] {
			return false
		}
		for _, cat := range item.CategoryIDs {
			if exemptCategories[cat] {
				return false
			}
		}
	}
	return true
}
