package services

import (
	"fmt"
	"strings"

	domain "github.com/itamarnascimento/shop-dash-catalogue/internal/domain"
)

// AssembleOrder prices lines and applies coupon, producing the submission written by the order
// paths. coupon must already have passed evaluation; nil means no discount.
func AssembleOrder(lines []CartLine, address ShippingAddress, coupon *Coupon) (OrderSubmission, error) {
	if len(lines) == 0 {
		return OrderSubmission{}, domain.NewValidationError("lines", "cart is empty")
	}
	if field := address.MissingField(); field != "" {
		return OrderSubmission{}, domain.NewValidationError("shipping_address."+field, "")
	}
	submission, err := priceLines(lines, coupon)
	if err != nil {
		return OrderSubmission{}, err
	}
	submission.ShippingAddress = trimAddress(address)
	return submission, nil
}

// priceLines is AssembleOrder without the address, for sessions where the processor collects it.
func priceLines(lines []CartLine, coupon *Coupon) (OrderSubmission, error) {
	if len(lines) == 0 {
		return OrderSubmission{}, domain.NewValidationError("lines", "cart is empty")
	}
	submission := OrderSubmission{Lines: make([]domain.SubmissionLine, 0, len(lines))}
	for i, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return OrderSubmission{}, domain.NewValidationError(fmt.Sprintf("lines[%d].product_id", i), "")
		}
		if line.Quantity <= 0 {
			return OrderSubmission{}, domain.NewValidationError(fmt.Sprintf("lines[%d].quantity", i), "must be positive")
		}
		if line.UnitPrice < 0 {
			return OrderSubmission{}, domain.NewValidationError(fmt.Sprintf("lines[%d].unit_price", i), "must not be negative")
		}
		total := line.Total()
		submission.Lines = append(submission.Lines, domain.SubmissionLine{
			ProductID:    line.ProductID,
			Variant:      line.Variant,
			ProductName:  line.Name,
			ProductImage: line.Image,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			TotalPrice:   total,
		})
		submission.Subtotal += total
	}

	if coupon != nil {
		submission.CouponCode = coupon.Code
		submission.Discount = coupon.Discount(submission.Subtotal)
	}
	submission.Total = domain.FinalPrice(submission.Subtotal, submission.Discount)
	return submission, nil
}

func trimAddress(a ShippingAddress) ShippingAddress {
	return ShippingAddress{
		Name:    strings.TrimSpace(a.Name),
		Street:  strings.TrimSpace(a.Street),
		City:    strings.TrimSpace(a.City),
		State:   strings.TrimSpace(a.State),
		ZipCode: strings.TrimSpace(a.ZipCode),
		Phone:   strings.TrimSpace(a.Phone),
	}
}
