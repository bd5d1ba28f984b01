// Package ai wraps the external generative classification endpoint. The
// endpoint is an opaque JSON service: each prompt kind has a fixed request
// payload and response shape. Complaint classification is memoized through
// a TTL cache and degrades to a default result on failure; every other
// prompt kind propagates failure to the caller so a clinician is never led
// to believe content was produced.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardflow/wardflow/internal/domain/patient"
	"github.com/wardflow/wardflow/internal/platform/cache"
)

// PromptKind selects the operation performed by the generative endpoint.
type PromptKind string

const (
	PromptClassifyComplaint PromptKind = "classify_complaint"
	PromptDischargeSummary  PromptKind = "discharge_summary"
	PromptConsistencyCheck  PromptKind = "consistency_check"
	PromptOrderSuggestions  PromptKind = "order_suggestions"
	PromptSOAPDraft         PromptKind = "soap_draft"
)

// Classification is the complaint classifier's output. FromCache marks a
// memoized result so consumers can display provenance.
type Classification struct {
	Department  string              `json:"department"`
	TriageLevel patient.TriageLevel `json:"suggested_triage"`
	Confidence  float64             `json:"confidence"`
	FromCache   bool                `json:"from_cache"`
}

// FallbackClassification is returned whenever the classifier cannot be
// reached. Classification failures must never block registration or vitals
// entry.
func FallbackClassification() Classification {
	return Classification{Department: "Unknown", TriageLevel: patient.TriageNone, Confidence: 0}
}

// ConsistencyFinding is one problem reported by the clinical-file
// cross-check.
type ConsistencyFinding struct {
	Section      string `json:"section"`
	Problem      string `json:"problem"`
	Severity     string `json:"severity"`
	SuggestedFix string `json:"suggested_fix"`
}

// SOAPDraft is a generated SOAP-format note for clinician review.
type SOAPDraft struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// GenerationError is a hard failure from a non-classification prompt kind.
// Callers surface it to the user; it is never substituted with a default.
type GenerationError struct {
	Kind PromptKind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("ai generation %s failed: %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Client calls the generative endpoint.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	cache    cache.Store
	logger   zerolog.Logger
}

// NewClient creates a client. An empty endpoint is valid: every call then
// behaves as an endpoint failure (soft or hard per prompt kind), which is
// how an unconfigured deployment runs.
func NewClient(endpoint, apiKey string, store cache.Store, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if store == nil {
		store = cache.NewMemory(0, nil)
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
		cache:    store,
		logger:   logger,
	}
}

type generateRequest struct {
	PromptKind PromptKind `json:"prompt_kind"`
	Payload    any        `json:"payload"`
}

func (c *Client) generate(ctx context.Context, kind PromptKind, payload any) (json.RawMessage, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("ai endpoint not configured")
	}

	body, err := json.Marshal(generateRequest{PromptKind: kind, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

// classifyKey normalizes the complaint text so semantically identical
// inputs share one cache entry across calls.
func classifyKey(text string) string {
	return string(PromptClassifyComplaint) + ":" + strings.ToLower(strings.TrimSpace(text))
}

// ClassifyComplaint classifies free-text complaint into a department and a
// suggested triage level. Soft-fail: any endpoint error is logged and the
// fallback classification is returned; the error never reaches the caller.
func (c *Client) ClassifyComplaint(ctx context.Context, text string) Classification {
	key := classifyKey(text)

	if payload, ok := c.cache.Get(ctx, key); ok {
		var cls Classification
		if err := json.Unmarshal(payload, &cls); err == nil {
			cls.FromCache = true
			return cls
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	}

	raw, err := c.generate(ctx, PromptClassifyComplaint, map[string]string{"complaint": text})
	if err != nil {
		c.logger.Error().Err(err).Msg("complaint classification failed, using fallback")
		return FallbackClassification()
	}

	var cls Classification
	if err := json.Unmarshal(raw, &cls); err != nil {
		c.logger.Error().Err(err).Msg("complaint classification returned malformed payload, using fallback")
		return FallbackClassification()
	}
	cls.FromCache = false

	if payload, err := json.Marshal(cls); err == nil {
		c.cache.Set(ctx, key, payload)
	}
	return cls
}

// DischargeSummary generates a discharge summary draft. Hard-fail.
func (c *Client) DischargeSummary(ctx context.Context, p patient.Patient) (string, error) {
	raw, err := c.generate(ctx, PromptDischargeSummary, p)
	if err != nil {
		return "", &GenerationError{Kind: PromptDischargeSummary, Err: err}
	}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &GenerationError{Kind: PromptDischargeSummary, Err: fmt.Errorf("malformed payload: %w", err)}
	}
	return out.Summary, nil
}

// CheckConsistency cross-checks the clinical file for contradictions.
// Hard-fail. An empty finding list means the endpoint found nothing; it is
// returned as-is and grants no approval by itself.
func (c *Client) CheckConsistency(ctx context.Context, file patient.ClinicalFile) ([]ConsistencyFinding, error) {
	raw, err := c.generate(ctx, PromptConsistencyCheck, file)
	if err != nil {
		return nil, &GenerationError{Kind: PromptConsistencyCheck, Err: err}
	}
	var findings []ConsistencyFinding
	if err := json.Unmarshal(raw, &findings); err != nil {
		return nil, &GenerationError{Kind: PromptConsistencyCheck, Err: fmt.Errorf("malformed payload: %w", err)}
	}
	return findings, nil
}

// SuggestOrders proposes orders for the patient's presentation. Hard-fail.
func (c *Client) SuggestOrders(ctx context.Context, p patient.Patient) ([]string, error) {
	raw, err := c.generate(ctx, PromptOrderSuggestions, p)
	if err != nil {
		return nil, &GenerationError{Kind: PromptOrderSuggestions, Err: err}
	}
	var out struct {
		Orders []string `json:"orders"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &GenerationError{Kind: PromptOrderSuggestions, Err: fmt.Errorf("malformed payload: %w", err)}
	}
	return out.Orders, nil
}

// DraftSOAP drafts a SOAP note from the patient record. Hard-fail.
func (c *Client) DraftSOAP(ctx context.Context, p patient.Patient) (SOAPDraft, error) {
	raw, err := c.generate(ctx, PromptSOAPDraft, p)
	if err != nil {
		return SOAPDraft{}, &GenerationError{Kind: PromptSOAPDraft, Err: err}
	}
	var draft SOAPDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return SOAPDraft{}, &GenerationError{Kind: PromptSOAPDraft, Err: fmt.Errorf("malformed payload: %w", err)}
	}
	return draft, nil
}
