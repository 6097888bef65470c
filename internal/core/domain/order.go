package domain

import "time"

type PaymentMethod string

const (
	PaymentBankTransfer   PaymentMethod = "BANK_TRANSFER"
	PaymentEWallet        PaymentMethod = "E_WALLET"
	PaymentQRIS           PaymentMethod = "QRIS"
	PaymentCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentBankTransfer, PaymentEWallet, PaymentQRIS, PaymentCashOnDelivery:
		return true
	}
	return false
}

type Order struct {
	ID              string
	UserID          string
	TotalAmount     int64
	Status          OrderStatus
	ShippingAddress string
	PaymentMethod   PaymentMethod
	PaymentProof    *string
	Lines           []OrderLine
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderLine keeps the unit price captured at checkout so later catalog price
// changes never alter historical totals.
type OrderLine struct {
	ID        string
	OrderID   string
	ProductID int64
	Quantity  int
	UnitPrice int64
	ReviewID  *string
}

func (l OrderLine) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// OrderDraft is an assembled, not yet persisted order.
type OrderDraft struct {
	UserID          string
	ShippingAddress string
	PaymentMethod   PaymentMethod
	TotalAmount     int64
	Lines           []DraftLine
}

type DraftLine struct {
	ProductID   int64
	ProductName string
	Quantity    int
	UnitPrice   int64
}
