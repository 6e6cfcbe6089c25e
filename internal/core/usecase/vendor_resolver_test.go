package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/kirillkom/invoiceflow/internal/core/domain"
	"github.com/kirillkom/invoiceflow/internal/core/ports"
)

func TestResolveNoVendorsRegistered(t *testing.T) {
	uc := NewVendorResolverUseCase(&vendorRepoFake{}, &llmFake{}, nil)

	match, err := uc.Resolve(context.Background(), "some invoice text", uuid.New())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if match.VendorID != nil || match.Confidence != 0 || match.Reason != domain.MatchNone {
		t.Fatalf("expected the zero match, got %+v", match)
	}
}

func TestResolveIdentifierWinsOverEverything(t *testing.T) {
	target := domain.Vendor{ID: uuid.New(), Name: "Acme Corporation", Identifiers: []string{"TAXID-9"}}
	decoy := domain.Vendor{ID: uuid.New(), Name: "Decoy Industries"}

	// The AI strategy would confidently pick the decoy; it must never run
	// once an identifier matched.
	llm := &llmFake{result: ports.CompletionResult{Fields: map[string]any{
		"vendor_id":  decoy.ID.String(),
		"confidence": 0.99,
	}}}
	uc := NewVendorResolverUseCase(&vendorRepoFake{vendors: []domain.Vendor{decoy, target}}, llm, nil)

	text := "Invoice issued by somebody.\nVAT registration taxid-9 printed in the footer."
	match, err := uc.Resolve(context.Background(), text, uuid.New())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if match.VendorID == nil || *match.VendorID != target.ID {
		t.Fatalf("expected identifier match on %s, got %+v", target.ID, match)
	}
	if match.Reason != domain.MatchByIdentifier || match.Confidence != identifierConfidence {
		t.Fatalf("unexpected match: %+v", match)
	}
	if llm.calls != 0 {
		t.Fatalf("AI strategy ran %d times despite identifier hit", llm.calls)
	}
}

func TestResolveAIPickAccepted(t *testing.T) {
	vendor := domain.Vendor{ID: uuid.New(), Name: "Globex"}
	llm := &llmFake{result: ports.CompletionResult{Fields: map[string]any{
		"vendor_id":   vendor.ID.String(),
		"vendor_name": "Globex",
		"confidence":  0.85,
	}}}
	uc := NewVendorResolverUseCase(&vendorRepoFake{vendors: []domain.Vendor{vendor}}, llm, nil)

	match, err := uc.Resolve(context.Background(), strings.Repeat("unrelated words ", 50), uuid.New())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if match.Reason != domain.MatchByAI || match.VendorID == nil || *match.VendorID != vendor.ID {
		t.Fatalf("expected AI match, got %+v", match)
	}
	if match.Confidence != 0.85 {
		t.Fatalf("expected reported confidence 0.85, got %f", match.Confidence)
	}
}

func TestResolveAILowConfidenceFallsThrough(t *testing.T) {
	vendor := domain.Vendor{ID: uuid.New(), Name: "Initech Solutions"}
	llm := &llmFake{result: ports.CompletionResult{Fields: map[string]any{
		"vendor_id":  vendor.ID.String(),
		"confidence": 0.4,
	}}}
	uc := NewVendorResolverUseCase(&vendorRepoFake{vendors: []domain.Vendor{vendor}}, llm, nil)

	match, err := uc.Resolve(context.Background(), "Invoice from Initech Solutions, order 42", uuid.New())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if match.Reason != domain.MatchByFuzzy {
		t.Fatalf("expected fuzzy fallback, got %+v", match)
	}
	if match.Confidence != fuzzyExactConfidence {
		t.Fatalf("expected exact-name confidence %f, got %f", fuzzyExactConfidence, match.Confidence)
	}
}

func TestResolveAIErrorIsSwallowed(t *testing.T) {
	vendor := domain.Vendor{ID: uuid.New(), Name: "Initech Solutions"}
	llm := &llmFake{err: errors.New("service exploded")}
	uc := NewVendorResolverUseCase(&vendorRepoFake{vendors: []domain.Vendor{vendor}}, llm, nil)

	match, err := uc.Resolve(context.Background(), "Invoice from Initech Solutions", uuid.New())
	if err != nil {
		t.Fatalf("detection error must not surface, got %v", err)
	}
	if match.Reason != domain.MatchByFuzzy {
		t.Fatalf("expected fuzzy fallback after AI error, got %+v", match)
	}
}

func TestResolvePartialNameMatch(t *testing.T) {
	vendor := domain.Vendor{ID: uuid.New(), Name: "Northwind Trading Company Ltd"}
	llm := &llmFake{err: errors.New("down")}
	uc := NewVendorResolverUseCase(&vendorRepoFake{vendors: []domain.Vendor{vendor}}, llm, nil)

	// Two of three significant words present ("northwind", "trading");
	// "Ltd" is too short to count.
	text := "northwind trading invoice #18"
	match, err := uc.Resolve(context.Background(), text, uuid.New())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if match.Reason != domain.MatchByFuzzy || match.VendorID == nil {
		t.Fatalf("expected partial fuzzy match, got %+v", match)
	}
	maxPartial := fuzzyExactConfidence * fuzzyPartialScale
	if match.Confidence > maxPartial {
		t.Fatalf("partial confidence %f exceeds cap %f", match.Confidence, maxPartial)
	}
	if match.Confidence <= 0 {
		t.Fatalf("partial confidence must be positive, got %f", match.Confidence)
	}
}

func TestResolveNothingMatches(t *testing.T) {
	vendor := domain.Vendor{ID: uuid.New(), Name: "Completely Different GmbH", Identifiers: []string{"DE-123"}}
	llm := &llmFake{err: errors.New("down")}
	uc := NewVendorResolverUseCase(&vendorRepoFake{vendors: []domain.Vendor{vendor}}, llm, nil)

	match, err := uc.Resolve(context.Background(), "handwritten note about lunch", uuid.New())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if match.VendorID != nil || match.Reason != domain.MatchNone || match.Confidence != 0 {
		t.Fatalf("expected the zero match, got %+v", match)
	}
}

func TestConfidenceOrderingInvariant(t *testing.T) {
	if identifierConfidence <= aiAcceptThreshold {
		t.Fatal("identifier confidence must exceed the AI acceptance threshold")
	}
	if identifierConfidence <= fuzzyExactConfidence {
		t.Fatal("identifier confidence must exceed exact fuzzy confidence")
	}
	if fuzzyExactConfidence*fuzzyPartialScale >= identifierShortCircuit {
		t.Fatal("partial fuzzy matches must never reach the identifier short-circuit band")
	}
}
