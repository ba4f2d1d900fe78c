package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/photoid_backend/config"
	"bitbucket.org/mmdatafocus/photoid_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PhotoIDLedger is the per-order record of the upload outcome. An order
// has at most one row; the row holds either a stored file or an upload
// error, never both, and "no attempt yet" is simply no row.
type PhotoIDLedger struct {
	ID      int `gorm:"primary_key" json:"id"`
	OrderID int `gorm:"uniqueIndex" json:"order_id"`

	StoredFilename   string     `gorm:"size:191" json:"stored_filename"`
	OriginalFilename string     `gorm:"size:191" json:"original_filename"`
	StoragePath      string     `gorm:"size:512" json:"-"`
	MimeType         string     `gorm:"size:64" json:"mime_type"`
	SizeBytes        int64      `json:"size_bytes"`
	UploadedAt       *time.Time `json:"uploaded_at"`

	// UploadError is independent history: it survives retention sweeps and
	// is only replaced by a later successful upload.
	UploadError string `gorm:"size:512" json:"upload_error"`

	RequestedAt *time.Time `json:"requested_at"`
	RequestedBy int        `json:"requested_by"`

	// One salt+expiry pair per order; reissuing invalidates prior tokens.
	TokenSalt   string     `gorm:"size:64" json:"-"`
	TokenExpiry *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasFile reports whether the ledger currently names a stored file.
func (l *PhotoIDLedger) HasFile() bool {
	return l != nil && l.StoragePath != ""
}

// SetStoredFile records a successful promotion and clears any prior error.
func (l *PhotoIDLedger) SetStoredFile(f *utils.StoredFile) {
	l.StoredFilename = f.StoredFilename
	l.OriginalFilename = f.OriginalFilename
	l.StoragePath = f.StoragePath
	l.MimeType = f.MimeType
	l.SizeBytes = f.SizeBytes
	uploadedAt := f.UploadedAt
	l.UploadedAt = &uploadedAt
	l.UploadError = ""
}

// OrderMetadataRepository is the narrow surface the rest of the system
// uses for order-scoped upload metadata. The order aggregate owns the
// ledger; nothing else writes these rows.
type OrderMetadataRepository interface {
	GetLedger(ctx context.Context, orderID int) (*PhotoIDLedger, error)
	SaveLedger(ctx context.Context, ledger *PhotoIDLedger) error
	// ClearFileFields removes the stored-file fields after erasure while
	// preserving upload_error and request history.
	ClearFileFields(ctx context.Context, orderID int) error
	// ListExpired returns ledgers whose file was uploaded before cutoff
	// and not yet erased.
	ListExpired(ctx context.Context, cutoff time.Time) ([]*PhotoIDLedger, error)
	// RecordError notes a failed upload attempt without touching stored
	// file fields of other orders.
	RecordError(ctx context.Context, orderID int, message string) error
}

type GormOrderMetadataRepository struct {
	DB *gorm.DB
}

func NewOrderMetadataRepository(db *gorm.DB) *GormOrderMetadataRepository {
	return &GormOrderMetadataRepository{DB: db}
}

// db falls back to the global handle so a repository built during startup,
// before the pool exists, works once the connection is up.
func (r *GormOrderMetadataRepository) db() *gorm.DB {
	if r.DB != nil {
		return r.DB
	}
	return config.GetDB()
}

func (r *GormOrderMetadataRepository) GetLedger(ctx context.Context, orderID int) (*PhotoIDLedger, error) {
	var ledger PhotoIDLedger
	err := r.db().WithContext(ctx).Where("order_id = ?", orderID).First(&ledger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &ledger, nil
}

func (r *GormOrderMetadataRepository) SaveLedger(ctx context.Context, ledger *PhotoIDLedger) error {
	return r.db().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		UpdateAll: true,
	}).Create(ledger).Error
}

func (r *GormOrderMetadataRepository) ClearFileFields(ctx context.Context, orderID int) error {
	return r.db().WithContext(ctx).Model(&PhotoIDLedger{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"stored_filename":   "",
			"original_filename": "",
			"storage_path":      "",
			"mime_type":         "",
			"size_bytes":        0,
			"uploaded_at":       nil,
		}).Error
}

func (r *GormOrderMetadataRepository) ListExpired(ctx context.Context, cutoff time.Time) ([]*PhotoIDLedger, error) {
	var ledgers []*PhotoIDLedger
	err := r.db().WithContext(ctx).
		Where("storage_path <> '' AND uploaded_at IS NOT NULL AND uploaded_at < ?", cutoff).
		Find(&ledgers).Error
	if err != nil {
		return nil, err
	}
	return ledgers, nil
}

func (r *GormOrderMetadataRepository) RecordError(ctx context.Context, orderID int, message string) error {
	ledger, err := r.GetLedger(ctx, orderID)
	if err != nil {
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			return err
		}
		ledger = &PhotoIDLedger{OrderID: orderID}
	}
	ledger.UploadError = message
	return r.SaveLedger(ctx, ledger)
}

// LedgersForEmail returns ledgers joined to a customer's orders, for the
// personal-data export and erasure flows.
func LedgersForEmail(db *gorm.DB, ctx context.Context, email string) ([]*PhotoIDLedger, []*Order, error) {
	var orders []*Order
	if err := db.WithContext(ctx).Where("customer_email = ?", email).Find(&orders).Error; err != nil {
		return nil, nil, err
	}
	ids := make([]int, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	if len(ids) == 0 {
		return nil, orders, nil
	}
	var ledgers []*PhotoIDLedger
	if err := db.WithContext(ctx).Where("order_id IN ?", ids).Find(&ledgers).Error; err != nil {
		return nil, nil, err
	}
	return ledgers, orders, nil
}
