package models_test

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/photoid_backend/models"
	"bitbucket.org/mmdatafocus/photoid_backend/utils"
	"github.com/shopspring/decimal"
)

func TestNewOrderMapInput(t *testing.T) {
	input := models.NewOrder{
		CustomerName:  "  Aye Chan ",
		CustomerEmail: "aye@example.com",
		LineItems: []models.NewOrderLineItem{
			{ProductID: 1, ProductName: "Whisky 12y", CategoryIDs: []int{3, 5}, Quantity: 2, UnitPrice: decimal.NewFromInt(45)},
			{ProductID: 2, ProductName: "Gin", Quantity: 1, UnitPrice: decimal.RequireFromString("29.99")},
		},
	}

	order, err := input.MapInput()
	if err != nil {
		t.Fatalf("MapInput: %v", err)
	}
	if order.CustomerName != "Aye Chan" {
		t.Fatalf("customer name = %q", order.CustomerName)
	}
	if order.Status != models.OrderStatusPending {
		t.Fatalf("status = %v", order.Status)
	}
	if !order.TotalAmount.Equal(decimal.RequireFromString("119.99")) {
		t.Fatalf("total = %s", order.TotalAmount)
	}
	if order.LineItems[0].CategoryIDs != "3,5" {
		t.Fatalf("category ids = %q", order.LineItems[0].CategoryIDs)
	}
	if !order.LineItems[0].Amount.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("line amount = %s", order.LineItems[0].Amount)
	}

	got := order.LineItems[0].Categories()
	if len(got) != 2 || got[0] != 3 || got[1] != 5 {
		t.Fatalf("Categories() = %v", got)
	}
}

func TestNewOrderMapInputRejectsBadContacts(t *testing.T) {
	item := models.NewOrderLineItem{ProductID: 1, ProductName: "Gin", Quantity: 1, UnitPrice: decimal.NewFromInt(30)}

	bad := models.NewOrder{CustomerName: "X", CustomerEmail: "not-an-email", LineItems: []models.NewOrderLineItem{item}}
	if _, err := bad.MapInput(); err == nil {
		t.Fatal("invalid email accepted")
	}

	badPhone := models.NewOrder{
		CustomerName:  "X",
		CustomerEmail: "x@example.com",
		CustomerPhone: "12",
		LineItems:     []models.NewOrderLineItem{item},
	}
	if _, err := badPhone.MapInput(); err == nil {
		t.Fatal("invalid phone accepted")
	}
}

func TestAdmissionItems(t *testing.T) {
	order := &models.Order{
		LineItems: []models.OrderLineItem{
			{ProductID: 1, CategoryIDs: "3,5"},
			{ProductID: 2, CategoryIDs: ""},
		},
	}
	items := order.AdmissionItems()
	if len(items) != 2 {
		t.Fatalf("items = %v", items)
	}
	if items[0].ProductID != 1 || len(items[0].CategoryIDs) != 2 {
		t.Fatalf("first item = %+v", items[0])
	}
	if len(items[1].CategoryIDs) != 0 {
		t.Fatalf("second item categories = %v", items[1].CategoryIDs)
	}
}

func TestLedgerSetStoredFileClearsError(t *testing.T) {
	ledger := &models.PhotoIDLedger{OrderID: 7, UploadError: "file exceeds the maximum allowed size"}
	if ledger.HasFile() {
		t.Fatal("empty ledger reports a file")
	}

	stored := &utils.StoredFile{
		StoredFilename:   "order-7-abc.jpg",
		StoragePath:      "/srv/secure/order-7-abc.jpg",
		OriginalFilename: "passport.jpg",
		MimeType:         "image/jpeg",
		SizeBytes:        1024,
		UploadedAt:       time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	ledger.SetStoredFile(stored)

	if !ledger.HasFile() {
		t.Fatal("ledger does not report a file")
	}
	if ledger.UploadError != "" {
		t.Fatalf("upload error not cleared: %q", ledger.UploadError)
	}
	if ledger.StoredFilename != stored.StoredFilename || ledger.SizeBytes != stored.SizeBytes {
		t.Fatalf("ledger = %+v", ledger)
	}
	if ledger.UploadedAt == nil || !ledger.UploadedAt.Equal(stored.UploadedAt) {
		t.Fatalf("uploaded at = %v", ledger.UploadedAt)
	}
}
