package validation

import (
	"fmt"
	"math"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation
// registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// the declared gross total must match the sum of the lines, so a
	// malformed submission is rejected before any record is created
	v.RegisterStructValidation(submitClearanceStructValidation, SubmitClearanceRequest{})

	return v
}

// submitClearanceStructValidation verifies the aggregated gross of the
// lines equals GrossTotal (compared in cents to dodge float rounding).
func submitClearanceStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(SubmitClearanceRequest)

	var sum float64
	for _, l := range req.Lines {
		sum += l.Net * (1 + l.TaxRate)
	}

	sumCents := int(math.Round(sum * 100))
	grossCents := int(math.Round(req.GrossTotal * 100))
	if sumCents != grossCents {
		sl.ReportError(req.GrossTotal, "gross_total", "GrossTotal", "gross_match_lines",
			fmt.Sprintf("lines sum %.2f != gross_total %.2f", sum, req.GrossTotal))
	}
}
