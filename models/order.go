package models

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/photoid_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Order struct {
	ID            int             `gorm:"primary_key" json:"id"`
	OrderNumber   string          `gorm:"size:32;uniqueIndex" json:"order_number"`
	CustomerName  string          `gorm:"size:191" json:"customer_name"`
	CustomerEmail string          `gorm:"size:191;index" json:"customer_email"`
	CustomerPhone string          `gorm:"size:32" json:"customer_phone"`
	Status        OrderStatus     `gorm:"type:enum('Pending','Confirmed','Completed','Cancelled');default:Pending" json:"status"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,8)" json:"total_amount"`
	LineItems     []OrderLineItem `json:"line_items"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type OrderLineItem struct {
	ID          int             `gorm:"primary_key" json:"id"`
	OrderID     int             `gorm:"index" json:"order_id"`
	ProductID   int             `json:"product_id"`
	ProductName string          `gorm:"size:191" json:"product_name"`
	CategoryIDs string          `gorm:"size:191" json:"category_ids"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(20,8)" json:"unit_price"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,8)" json:"amount"`
}

// Categories decodes the comma-separated category id list.
func (li OrderLineItem) Categories() []int {
	var out []int
	for _, part := range strings.Split(li.CategoryIDs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return out
}

type NewOrderLineItem struct {
	ProductID   int             `json:"product_id" binding:"required"`
	ProductName string          `json:"product_name" binding:"required"`
	CategoryIDs []int           `json:"category_ids"`
	Quantity    int             `json:"quantity" binding:"required,gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type NewOrder struct {
	CustomerName  string             `json:"customer_name" binding:"required"`
	CustomerEmail string             `json:"customer_email" binding:"required"`
	CustomerPhone string             `json:"customer_phone"`
	LineItems     []NewOrderLineItem `json:"line_items" binding:"required,min=1,dive"`
	// UploadID references a staged photo-ID upload to consume into the
	// order, when the cart requires one.
	UploadID string `json:"upload_id"`
}

// MapInput validates customer contact fields and builds the order rows.
func (input NewOrder) MapInput() (*Order, error) {
	if !utils.IsValidEmail(input.CustomerEmail) {
		return nil, errors.New("customer email is not valid")
	}
	if input.CustomerPhone != "" {
		if err := utils.ValidatePhoneNumber(input.CustomerPhone, utils.CountryCode); err != nil {
			return nil, err
		}
	}

	order := &Order{
		CustomerName:  strings.TrimSpace(input.CustomerName),
		CustomerEmail: strings.TrimSpace(input.CustomerEmail),
		CustomerPhone: strings.TrimSpace(input.CustomerPhone),
		Status:        OrderStatusPending,
	}

	total := decimal.Zero
	for _, item := range input.LineItems {
		amount := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		order.LineItems = append(order.LineItems, OrderLineItem{
			ProductID:   item.ProductID,
			ProductName: strings.TrimSpace(item.ProductName),
			CategoryIDs: joinIDs(item.CategoryIDs),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Amount:      amount,
		})
		total = total.Add(amount)
	}
	order.TotalAmount = total
	return order, nil
}

func joinIDs(ids []int) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}
	return strings.Join(parts, ",")
}

func (o *Order) Store(tx *gorm.DB, ctx context.Context) error {
	if err := tx.WithContext(ctx).Create(o).Error; err != nil {
		return err
	}
	if o.OrderNumber == "" {
		o.OrderNumber = "SO-" + strconv.Itoa(100000+o.ID)
		if err := tx.WithContext(ctx).Model(o).Update("order_number", o.OrderNumber).Error; err != nil {
			return err
		}
	}
	return nil
}

func GetOrder(db *gorm.DB, ctx context.Context, orderID int) (*Order, error) {
	var order Order
	err := db.WithContext(ctx).Preload("LineItems").First(&order, orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &order, nil
}

// AdmissionItems converts persisted line items to the policy's input shape.
func (o *Order) AdmissionItems() []CartItem {
	items := make([]CartItem, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, CartItem{
			ProductID:   li.ProductID,
			CategoryIDs: li.Categories(),
		})
	}
	return items
}
