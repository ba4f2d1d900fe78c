package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

// Capability is the typed replacement for ad-hoc capability strings.
type Capability string

const (
	// CapabilityManageStore is held by store managers and grants every
	// photo-ID operation alongside the rest of the store.
	CapabilityManageStore Capability = "manage_store"
	// CapabilityManagePhotoID is the dedicated grant for staff who only
	// review identity documents.
	CapabilityManagePhotoID Capability = "manage_photo_id"
)

func (c Capability) Value() (driver.Value, error) {
	return string(c), nil
}

func (c *Capability) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		*c = Capability(v)
	case []byte:
		*c = Capability(v)
	default:
		return errors.New("capability must be a string")
	}
	return nil
}

// CanManagePhotoID is the single authorization predicate for every staff
// read and write on stored IDs.
func CanManagePhotoID(capabilities []string) bool {
	for _, c := range capabilities {
		if Capability(c) == CapabilityManageStore || Capability(c) == CapabilityManagePhotoID {
			return true
		}
	}
	return false
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusConfirmed OrderStatus = "Confirmed"
	OrderStatusCompleted OrderStatus = "Completed"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

func (s OrderStatus) Value() (driver.Value, error) {
	return string(s), nil
}

func (s *OrderStatus) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		*s = OrderStatus(v)
	case []byte:
		*s = OrderStatus(v)
	default:
		return fmt.Errorf("order status must be a string, got %T", value)
	}
	return nil
}
