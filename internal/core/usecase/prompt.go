package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
)

const baseExtractionInstructions = `You are an accounting assistant. Extract structured data from the invoice or receipt text below.
Return ONLY a JSON object. Use these canonical keys when the data is present:
- invoice_number: the document/invoice number as printed
- invoice_date: issue date in YYYY-MM-DD
- total_amount: grand total as a decimal string, no currency symbols
- currency: ISO 4217 code (3 letters)
- line_items: array of {description, quantity, unit_price, amount}
Include any other clearly labelled fields under their own keys. Never invent values.`

// BuildExtractionInstructions assembles the prompt for a document,
// appending the template's custom instructions and field definitions when a
// template applies.
func BuildExtractionInstructions(tpl *domain.Template) string {
	var b strings.Builder
	b.WriteString(baseExtractionInstructions)

	if tpl == nil {
		return b.String()
	}
	if inst := strings.TrimSpace(tpl.Instructions); inst != "" {
		b.WriteString("\n\nVendor-specific instructions:\n")
		b.WriteString(inst)
	}
	if len(tpl.CustomFields) > 0 {
		b.WriteString("\n\nAdditionally extract these fields:\n")
		for _, f := range tpl.CustomFields {
			req := "optional"
			if f.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "- %s (%s, %s)", f.Name, f.Type, req)
			if f.Description != "" {
				fmt.Fprintf(&b, ": %s", f.Description)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// BuildResponseSchema returns the JSON-Schema (draft 2020-12 subset) the
// completion service is asked to satisfy. Vendor-specific keys are allowed
// through additionalProperties so field mappings can pick them up.
func BuildResponseSchema(tpl *domain.Template) map[string]any {
	props := map[string]any{
		FieldInvoiceNumber: map[string]any{"type": "string"},
		FieldInvoiceDate:   map[string]any{"type": "string"},
		FieldTotalAmount:   map[string]any{"type": []string{"string", "number"}},
		FieldCurrency:      map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
		FieldLineItems: map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"description": map[string]any{"type": "string"},
					"quantity":    map[string]any{"type": []string{"string", "number"}},
					"unit_price":  map[string]any{"type": []string{"string", "number"}},
					"amount":      map[string]any{"type": []string{"string", "number"}},
				},
			},
		},
	}

	if tpl != nil {
		for _, f := range tpl.CustomFields {
			props[f.Name] = map[string]any{"type": schemaType(f.Type)}
		}
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": true,
		"properties":           props,
	}
}

func schemaType(fieldType string) string {
	switch strings.ToLower(fieldType) {
	case "number", "decimal", "float", "integer":
		return "number"
	case "boolean", "bool":
		return "boolean"
	default:
		return "string"
	}
}
