package validation

// Line is a single invoice line inside a clearance submission.
type Line struct {
	Description string  `json:"description" validate:"required"`
	Net         float64 `json:"net" validate:"required,gt=0"`    // net amount per line
	TaxRate     float64 `json:"tax_rate" validate:"gte=0,lte=1"` // 0.23 means 23%
}

// SubmitClearanceRequest is the payload for POST /clearances.
type SubmitClearanceRequest struct {
	InvoiceID  string                 `json:"invoice_id" validate:"required"`       // seller's invoice number
	TaxID      string                 `json:"tax_id" validate:"required"`           // seller tax identifier; masked before persistence
	Currency   string                 `json:"currency" validate:"required,len=3"`   // ISO 4217
	GrossTotal float64                `json:"gross_total" validate:"required,gt=0"` // total the client claims
	Lines      []Line                 `json:"lines" validate:"required,min=1,dive"` // at least one line
	Metadata   map[string]interface{} `json:"metadata,omitempty"`                   // optional free-form metadata
}
