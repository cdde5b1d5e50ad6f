package domain

import (
	"strings"
	"time"
)

// LineKey identifies a cart line. Lines sharing a key are merged.
type LineKey struct {
	ProductID string `json:"productId"`
	Variant   string `json:"variant,omitempty"`
}

// String renders the key as a stable document identifier.
func (k LineKey) String() string {
	if k.Variant == "" {
		return k.ProductID
	}
	return k.ProductID + "~" + k.Variant
}

// Product is the snapshot of catalogue data carried by a cart line.
type Product struct {
	ID        string
	Name      string
	Image     string
	UnitPrice int64
}

// CartLine is one product+variant entry with a quantity of at least one.
type CartLine struct {
	ProductID string
	Variant   string
	Name      string
	Image     string
	UnitPrice int64
	Quantity  int
}

// Key returns the identity key of the line.
func (l CartLine) Key() LineKey {
	return LineKey{ProductID: l.ProductID, Variant: l.Variant}
}

// Total is unit price times quantity.
func (l CartLine) Total() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// AppliedCoupon is the coupon snapshot attached to a session cart. It is re-validated at commit.
type AppliedCoupon struct {
	Code          string
	DiscountType  DiscountType
	DiscountValue int64
	Discount      int64
	ValidatedAt   time.Time
}

// Cart is an ordered list of lines plus at most one applied coupon.
type Cart struct {
	UserID    string
	Lines     []CartLine
	Coupon    *AppliedCoupon
	UpdatedAt time.Time
}

// TotalPrice sums unit price times quantity over all lines.
func (c Cart) TotalPrice() int64 {
	var total int64
	for _, line := range c.Lines {
		total += line.Total()
	}
	return total
}

// TotalItems sums quantities over all lines.
func (c Cart) TotalItems() int {
	total := 0
	for _, line := range c.Lines {
		total += line.Quantity
	}
	return total
}

// Find returns the index of the line with the given key, or -1.
func (c Cart) Find(key LineKey) int {
	for i, line := range c.Lines {
		if line.Key() == key {
			return i
		}
	}
	return -1
}

// CartAction is a transition accepted by ApplyCartAction.
type CartAction interface {
	cartAction()
}

// AddItem increments the matching line or appends a new line with quantity one.
type AddItem struct {
	Product Product
	Variant string
}

// RemoveItem drops the matching line.
type RemoveItem struct {
	Key LineKey
}

// SetQuantity replaces the quantity of the matching line; non-positive quantities remove it.
type SetQuantity struct {
	Key      LineKey
	Quantity int
}

// ClearCart empties the cart and drops the applied coupon.
type ClearCart struct{}

// LoadCart replaces the cart wholesale.
type LoadCart struct {
	Snapshot Cart
}

func (AddItem) cartAction()     {}
func (RemoveItem) cartAction()  {}
func (SetQuantity) cartAction() {}
func (ClearCart) cartAction()   {}
func (LoadCart) cartAction()    {}

// ApplyCartAction is the cart transition function. It never mutates the input cart.
func ApplyCartAction(cart Cart, action CartAction) (Cart, error) {
	next := cart.clone()
	switch a := action.(type) {
	case AddItem:
		productID := strings.TrimSpace(a.Product.ID)
		if productID == "" {
			return cart, NewValidationError("productId", "")
		}
		if a.Product.UnitPrice < 0 {
			return cart, NewValidationError("unitPrice", "must not be negative")
		}
		key := LineKey{ProductID: productID, Variant: strings.TrimSpace(a.Variant)}
		if idx := next.Find(key); idx >= 0 {
			next.Lines[idx].Quantity++
			return next, nil
		}
		next.Lines = append(next.Lines, CartLine{
			ProductID: key.ProductID,
			Variant:   key.Variant,
			Name:      a.Product.Name,
			Image:     a.Product.Image,
			UnitPrice: a.Product.UnitPrice,
			Quantity:  1,
		})
	case RemoveItem:
		next.Lines = removeLine(next.Lines, a.Key)
	case SetQuantity:
		if a.Quantity <= 0 {
			next.Lines = removeLine(next.Lines, a.Key)
			return next, nil
		}
		if idx := next.Find(a.Key); idx >= 0 {
			next.Lines[idx].Quantity = a.Quantity
		}
	case ClearCart:
		next.Lines = nil
		next.Coupon = nil
	case LoadCart:
		return normalizeSnapshot(a.Snapshot), nil
	case nil:
		return cart, NewValidationError("action", "is required")
	default:
		return cart, NewValidationError("action", "unsupported cart action")
	}
	return next, nil
}

func (c Cart) clone() Cart {
	out := c
	if c.Lines != nil {
		out.Lines = make([]CartLine, len(c.Lines))
		copy(out.Lines, c.Lines)
	}
	if c.Coupon != nil {
		coupon := *c.Coupon
		out.Coupon = &coupon
	}
	return out
}

func removeLine(lines []CartLine, key LineKey) []CartLine {
	out := lines[:0]
	for _, line := range lines {
		if line.Key() != key {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeSnapshot merges duplicate keys and drops non-positive quantities from external data.
func normalizeSnapshot(snapshot Cart) Cart {
	out := snapshot.clone()
	out.Lines = nil
	for _, line := range snapshot.Lines {
		if strings.TrimSpace(line.ProductID) == "" || line.Quantity <= 0 {
			continue
		}
		if idx := out.Find(line.Key()); idx >= 0 {
			out.Lines[idx].Quantity += line.Quantity
			continue
		}
		out.Lines = append(out.Lines, line)
	}
	return out
}
