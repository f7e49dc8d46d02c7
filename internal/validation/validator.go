package validation

import (
	"fmt"
	"math"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation
// registered for every tracking payload that carries a claimed total.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterStructValidation(trackCartStructValidation, TrackCartRequest{})
	v.RegisterStructValidation(trackCheckoutStructValidation, TrackCheckoutRequest{})
	v.RegisterStructValidation(trackOrderStructValidation, TrackOrderRequest{})

	return v
}

func trackCartStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(TrackCartRequest)
	checkTotal(sl, req.Items, req.Total)
}

func trackCheckoutStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(TrackCheckoutRequest)
	checkTotal(sl, req.Items, req.Total)
}

func trackOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(TrackOrderRequest)
	checkTotal(sl, req.Items, req.Total)
}

// checkTotal verifies the aggregated total of items equals the claimed total
// (compared in cents to avoid float rounding issues).
func checkTotal(sl validatorv10.StructLevel, items []CartItem, total float64) {
	var sum float64
	for _, it := range items {
		sum += float64(it.Quantity) * it.Price
	}

	sumCents := int(math.Round(sum * 100))
	totalCents := int(math.Round(total * 100))
	if sumCents != totalCents {
		sl.ReportError(total, "total", "Total", "total_match_items", fmt.Sprintf("items sum %.2f != total %.2f", sum, total))
	}
}
