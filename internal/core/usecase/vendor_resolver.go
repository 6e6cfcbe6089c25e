package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
	"github.com/kirillkom/invoiceflow/internal/core/ports"
)

// Detection cascade thresholds. Identifier hits always outrank AI hits,
// which outrank fuzzy name matches.
const (
	identifierConfidence   = 0.95
	identifierShortCircuit = 0.9
	aiAcceptThreshold      = 0.7
	fuzzyExactConfidence   = 0.8
	fuzzyPartialScale      = 0.7
	fuzzyCoverageThreshold = 0.5
	fuzzyWordMinLen        = 3

	aiTextWindow    = 1500
	fuzzyTextWindow = 1000
)

// VendorResolverUseCase implements the identifier → AI → fuzzy detection
// cascade. Resolution failure is never fatal: the zero match with reason
// "none" is a valid outcome.
type VendorResolverUseCase struct {
	vendors ports.VendorRepository
	llm     ports.ExtractionClient
	logger  *slog.Logger
}

func NewVendorResolverUseCase(vendors ports.VendorRepository, llm ports.ExtractionClient, logger *slog.Logger) *VendorResolverUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &VendorResolverUseCase{vendors: vendors, llm: llm, logger: logger}
}

func (uc *VendorResolverUseCase) Resolve(ctx context.Context, text string, ownerID uuid.UUID) (domain.VendorMatch, error) {
	none := domain.VendorMatch{Reason: domain.MatchNone}

	candidates, err := uc.vendors.ListByOwner(ctx, ownerID)
	if err != nil {
		return none, fmt.Errorf("list vendors: %w", err)
	}
	if len(candidates) == 0 {
		return none, nil
	}

	if match, ok := uc.matchByIdentifier(text, candidates); ok {
		if match.Confidence > identifierShortCircuit {
			return match, nil
		}
	}

	if match, ok := uc.matchByAI(ctx, text, candidates); ok {
		return match, nil
	}

	if match, ok := uc.matchByName(text, candidates); ok {
		return match, nil
	}

	return none, nil
}

// matchByIdentifier scans registered identifiers (tax ids, registration
// numbers) as case-insensitive substrings of the full text.
func (uc *VendorResolverUseCase) matchByIdentifier(text string, candidates []domain.Vendor) (domain.VendorMatch, bool) {
	haystack := strings.ToLower(text)
	for i := range candidates {
		v := &candidates[i]
		for _, ident := range v.Identifiers {
			needle := strings.ToLower(strings.TrimSpace(ident))
			if needle == "" {
				continue
			}
			if strings.Contains(haystack, needle) {
				id := v.ID
				return domain.VendorMatch{
					VendorID:     &id,
					Confidence:   identifierConfidence,
					DetectedName: v.Name,
					Reason:       domain.MatchByIdentifier,
				}, true
			}
		}
	}
	return domain.VendorMatch{}, false
}

type aiVendorPick struct {
	VendorID   string  `json:"vendor_id"`
	VendorName string  `json:"vendor_name"`
	Confidence float64 `json:"confidence"`
}

// matchByAI asks the completion service to pick the best candidate. Any
// failure here falls through to fuzzy matching.
func (uc *VendorResolverUseCase) matchByAI(ctx context.Context, text string, candidates []domain.Vendor) (domain.VendorMatch, bool) {
	res, err := uc.llm.Complete(ctx, ports.CompletionRequest{
		Text:           headOf(text, aiTextWindow),
		Instructions:   buildVendorDetectionPrompt(candidates),
		ResponseSchema: vendorPickSchema(),
	})
	if err != nil {
		uc.logger.Warn("ai vendor detection failed, falling through", "error", err)
		return domain.VendorMatch{}, false
	}

	raw, err := json.Marshal(res.Fields)
	if err != nil {
		uc.logger.Warn("ai vendor detection returned unusable payload", "error", err)
		return domain.VendorMatch{}, false
	}
	var pick aiVendorPick
	if err := json.Unmarshal(raw, &pick); err != nil {
		uc.logger.Warn("ai vendor detection returned malformed pick", "error", err)
		return domain.VendorMatch{}, false
	}
	if pick.Confidence <= aiAcceptThreshold {
		return domain.VendorMatch{}, false
	}

	pickID, err := uuid.Parse(pick.VendorID)
	if err != nil {
		return domain.VendorMatch{}, false
	}
	for i := range candidates {
		if candidates[i].ID == pickID {
			id := candidates[i].ID
			return domain.VendorMatch{
				VendorID:     &id,
				Confidence:   pick.Confidence,
				DetectedName: candidates[i].Name,
				Reason:       domain.MatchByAI,
			}, true
		}
	}
	return domain.VendorMatch{}, false
}

// matchByName looks for the vendor name near the top of the document:
// an exact hit first, then significant-word overlap scaled down to reflect
// the weaker signal. The best-scoring partial wins.
func (uc *VendorResolverUseCase) matchByName(text string, candidates []domain.Vendor) (domain.VendorMatch, bool) {
	window := strings.ToLower(headOf(text, fuzzyTextWindow))

	var best domain.VendorMatch
	for i := range candidates {
		v := &candidates[i]
		name := strings.ToLower(strings.TrimSpace(v.Name))
		if name == "" {
			continue
		}

		if strings.Contains(window, name) {
			id := v.ID
			return domain.VendorMatch{
				VendorID:     &id,
				Confidence:   fuzzyExactConfidence,
				DetectedName: v.Name,
				Reason:       domain.MatchByFuzzy,
			}, true
		}

		words := significantWords(name)
		if len(words) == 0 {
			continue
		}
		hits := 0
		for _, w := range words {
			if strings.Contains(window, w) {
				hits++
			}
		}
		coverage := float64(hits) / float64(len(words))
		if coverage <= fuzzyCoverageThreshold {
			continue
		}
		confidence := fuzzyExactConfidence * coverage * fuzzyPartialScale
		if confidence > best.Confidence {
			id := v.ID
			best = domain.VendorMatch{
				VendorID:     &id,
				Confidence:   confidence,
				DetectedName: v.Name,
				Reason:       domain.MatchByFuzzy,
			}
		}
	}
	return best, best.VendorID != nil
}

// significantWords drops short tokens like "Inc" or "Ltd" from multi-word
// vendor names.
func significantWords(name string) []string {
	var out []string
	for _, w := range strings.Fields(name) {
		if len(w) > fuzzyWordMinLen {
			out = append(out, w)
		}
	}
	return out
}

func headOf(text string, n int) string {
	if len(text) <= n {
		return text
	}
	return text[:n]
}

func buildVendorDetectionPrompt(candidates []domain.Vendor) string {
	var b strings.Builder
	b.WriteString("Pick which of these known vendors issued the document text, if any.\n")
	b.WriteString("Candidates:\n")
	for i := range candidates {
		v := &candidates[i]
		fmt.Fprintf(&b, "- id=%s name=%q identifiers=%s\n", v.ID, v.Name, strings.Join(v.Identifiers, ","))
	}
	b.WriteString("Return JSON {\"vendor_id\": \"<candidate id or empty>\", \"vendor_name\": \"...\", \"confidence\": 0..1}.")
	return b.String()
}

func vendorPickSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"vendor_id":   map[string]any{"type": "string"},
			"vendor_name": map[string]any{"type": "string"},
			"confidence":  map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		},
		"required": []string{"confidence"},
	}
}
