package domain

import (
	"time"

	"github.com/google/uuid"
)

type Vendor struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`
	Name    string    `json:"name"`
	// Identifiers are strings that uniquely point at this vendor on paper:
	// tax ids, registration numbers, IBANs.
	Identifiers []string  `json:"identifiers,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MatchReason identifies which detection strategy produced a vendor match.
type MatchReason string

const (
	MatchByIdentifier MatchReason = "identifier"
	MatchByAI         MatchReason = "ai"
	MatchByFuzzy      MatchReason = "fuzzy"
	MatchNone         MatchReason = "none"
)

// VendorMatch is the resolver outcome. A nil VendorID with confidence 0 and
// reason "none" is a valid result, not an error.
type VendorMatch struct {
	VendorID     *uuid.UUID  `json:"vendor_id,omitempty"`
	Confidence   float64     `json:"confidence"`
	DetectedName string      `json:"detected_name,omitempty"`
	Reason       MatchReason `json:"reason"`
}

type Template struct {
	ID       uuid.UUID `json:"id"`
	VendorID uuid.UUID `json:"vendor_id"`
	Name     string    `json:"name"`
	IsActive bool      `json:"is_active"`

	// Instructions are appended verbatim to the extraction prompt.
	Instructions string            `json:"instructions,omitempty"`
	CustomFields []FieldDefinition `json:"custom_fields,omitempty"`
	// FieldMappings rename vendor-specific extraction keys to canonical ones.
	FieldMappings   map[string]string `json:"field_mappings,omitempty"`
	ValidationRules []ValidationRule  `json:"validation_rules,omitempty"`

	TimesUsed  int        `json:"times_used"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type FieldDefinition struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

type RuleKind string

const (
	RuleRequired RuleKind = "required"
	RuleMin      RuleKind = "min"
	RuleMax      RuleKind = "max"
	RulePattern  RuleKind = "pattern"
	RuleLength   RuleKind = "length"
)

type ValidationRule struct {
	Field   string   `json:"field"`
	Kind    RuleKind `json:"kind"`
	Value   any      `json:"value,omitempty"`
	Message string   `json:"message,omitempty"`
}

// ValidationOutcome accumulates rule failures. Valid=false drives the
// validation_failed terminal status but never blocks persistence.
type ValidationOutcome struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}
