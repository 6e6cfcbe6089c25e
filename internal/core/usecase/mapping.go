package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
)

// Canonical extraction keys. Everything else lands in the custom-fields bag.
const (
	FieldInvoiceNumber = "invoice_number"
	FieldInvoiceDate   = "invoice_date"
	FieldTotalAmount   = "total_amount"
	FieldCurrency      = "currency"
	FieldLineItems     = "line_items"
)

var canonicalKeys = map[string]struct{}{
	FieldInvoiceNumber: {},
	FieldInvoiceDate:   {},
	FieldTotalAmount:   {},
	FieldCurrency:      {},
	FieldLineItems:     {},
}

// ApplyFieldMappings copies each mapped vendor key onto its canonical key.
// Mapping is additive: the original vendor keys stay in the result so they
// flow into custom fields afterwards.
func ApplyFieldMappings(fields map[string]any, mappings map[string]string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	for src, dst := range mappings {
		if v, ok := out[src]; ok && dst != "" {
			out[dst] = v
		}
	}
	return out
}

// PartitionFields splits mapped extraction output into the fixed canonical
// set and the free-form custom bag.
func PartitionFields(fields map[string]any) (canonical, custom map[string]any) {
	canonical = make(map[string]any)
	custom = make(map[string]any)
	for k, v := range fields {
		if _, ok := canonicalKeys[k]; ok {
			canonical[k] = v
		} else {
			custom[k] = v
		}
	}
	return canonical, custom
}

// ValidateFields evaluates declarative template rules against the mapped
// extraction output. Unknown rule kinds are logged and skipped; a rule
// failure is a data-quality signal, never a processing failure.
func ValidateFields(logger *slog.Logger, fields map[string]any, rules []domain.ValidationRule) domain.ValidationOutcome {
	if logger == nil {
		logger = slog.Default()
	}
	outcome := domain.ValidationOutcome{Valid: true}

	for _, rule := range rules {
		value, present := fields[rule.Field]
		var failed bool
		var detail string

		switch rule.Kind {
		case domain.RuleRequired:
			if !present || isEmptyValue(value) {
				failed = true
				detail = fmt.Sprintf("field %q is required", rule.Field)
			}
		case domain.RuleMin:
			if num, ok := toFloat(value); ok {
				if bound, bok := toFloat(rule.Value); bok && num < bound {
					failed = true
					detail = fmt.Sprintf("field %q is below minimum %v", rule.Field, rule.Value)
				}
			}
		case domain.RuleMax:
			if num, ok := toFloat(value); ok {
				if bound, bok := toFloat(rule.Value); bok && num > bound {
					failed = true
					detail = fmt.Sprintf("field %q exceeds maximum %v", rule.Field, rule.Value)
				}
			}
		case domain.RulePattern:
			pattern, _ := rule.Value.(string)
			re, err := regexp.Compile(pattern)
			if err != nil {
				logger.Warn("invalid validation pattern", "field", rule.Field, "pattern", pattern, "error", err)
				continue
			}
			if present && !re.MatchString(toString(value)) {
				failed = true
				detail = fmt.Sprintf("field %q does not match pattern %s", rule.Field, pattern)
			}
		case domain.RuleLength:
			if want, ok := toFloat(rule.Value); ok && present {
				if float64(len(toString(value))) != want {
					failed = true
					detail = fmt.Sprintf("field %q must be %d characters long", rule.Field, int(want))
				}
			}
		default:
			logger.Warn("unknown validation rule kind, skipping", "field", rule.Field, "kind", string(rule.Kind))
			continue
		}

		if failed {
			msg := rule.Message
			if msg == "" {
				msg = detail
			}
			outcome.Valid = false
			outcome.Errors = append(outcome.Errors, msg)
		}
	}
	return outcome
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
