// Package masking redacts sensitive fields from JSON payloads before
// they are persisted, queued, or logged.
package masking

import "encoding/json"

// DefaultFields are the payload fields redacted by the gateway: tax
// identifiers and contact details the authority requires but the job
// record must not retain in the clear.
var DefaultFields = []string{"tax_id", "vat_number", "email", "iban"}

// Masker replaces the values of configured fields with a fixed marker,
// recursing into nested objects and arrays. Unparseable input is
// returned unchanged; masking is best-effort and never blocks a job.
type Masker struct {
	fields map[string]struct{}
}

const redacted = "[REDACTED]"

// New returns a Masker for the given field names. Empty input falls
// back to DefaultFields.
func New(fields ...string) *Masker {
	if len(fields) == 0 {
		fields = DefaultFields
	}
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return &Masker{fields: set}
}

// Mask redacts configured fields in a JSON document.
func (m *Masker) Mask(payload json.RawMessage) json.RawMessage {
	if len(payload) == 0 {
		return payload
	}
	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return payload
	}
	masked := m.walk(doc)
	out, err := json.Marshal(masked)
	if err != nil {
		return payload
	}
	return out
}

func (m *Masker) walk(v interface{}) interface{} {
	switch node := v.(type) {
	case map[string]interface{}:
		for k, child := range node {
			if _, hit := m.fields[k]; hit {
				node[k] = redacted
				continue
			}
			node[k] = m.walk(child)
		}
		return node
	case []interface{}:
		for i, child := range node {
			node[i] = m.walk(child)
		}
		return node
	default:
		return v
	}
}
