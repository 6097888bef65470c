package domain

type Product struct {
	ID         int64
	Name       string
	Price      int64 // integer currency units
	Stock      int
	CategoryID int64
}

// MaxLineQuantity caps the units a single cart line may ask for.
const MaxLineQuantity = 10000

// CartLine is what the client submits. Price is accepted for compatibility with
// storefront clients that echo it back, but checkout never reads it.
type CartLine struct {
	ProductID int64
	Quantity  int
	Price     int64
}
