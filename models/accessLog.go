package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// PhotoIDAccessLog records every staff read or lifecycle action on a
// stored ID, the way the order-notes trail did upstream. Toggleable via
// settings; reads of the log itself are not logged.
type PhotoIDAccessLog struct {
	ID        int       `gorm:"primary_key" json:"id"`
	OrderID   int       `gorm:"index" json:"order_id"`
	UserID    int       `json:"user_id"`
	UserName  string    `gorm:"size:191" json:"user_name"`
	Action    string    `gorm:"size:32" json:"action"`
	Note      string    `gorm:"size:512" json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	AccessActionDownload  = "download"
	AccessActionPreview   = "preview"
	AccessActionRequest   = "request"
	AccessActionErase     = "erase"
	AccessActionRetention = "retention"
)

func LogPhotoIDAccess(db *gorm.DB, ctx context.Context, orderID, userID int, userName, action, note string) error {
	entry := &PhotoIDAccessLog{
		OrderID:  orderID,
		UserID:   userID,
		UserName: userName,
		Action:   action,
		Note:     note,
	}
	return db.WithContext(ctx).Create(entry).Error
}
