package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"phonescreen-console/internal/calls"
)

// VoiceGateway is the provider-agnostic boundary to the outbound calling service.
//
// Rules:
// - No provider HTTP calls outside gateway adapters.
// - Missing credentials return calls.ErrConfiguration and are never retried.
// - Transport and API failures return *ProviderError.
type VoiceGateway interface {
	Name() string
	HealthCheck(ctx context.Context) error

	CreateCall(ctx context.Context, req CreateCallRequest) (CallHandle, error)
	FetchDetails(ctx context.Context, providerCallID string) (CallDetails, error)
	// ListCalls returns the provider's recent calls payload as-is.
	ListCalls(ctx context.Context, limit int) (json.RawMessage, error)
}

type CreateCallRequest struct {
	PhoneNumber   string `json:"phoneNumber"`
	RecipientName string `json:"recipientName"`
	// AssistantID overrides the configured default assistant when set.
	AssistantID string `json:"assistantId,omitempty"`
}

// CallHandle is what the provider tells us about a call it just accepted.
// ProviderCallID may be empty when the provider answered with an unknown shape.
type CallHandle struct {
	ProviderCallID string           `json:"id"`
	Status         calls.CallStatus `json:"status"`
}

// CallDetails are the post-call artifacts. Every field is optional; absent
// fields must not overwrite stored values.
type CallDetails struct {
	Transcript *string  `json:"transcript,omitempty"`
	Summary    *string  `json:"summary,omitempty"`
	Duration   *int     `json:"duration,omitempty"`
	Cost       *float64 `json:"cost,omitempty"`
}

// Patch converts the details into a store patch. A provider duration is
// authoritative over the local clock.
func (d CallDetails) Patch() calls.Patch {
	p := calls.Patch{
		Transcript: d.Transcript,
		Summary:    d.Summary,
		Duration:   d.Duration,
		Cost:       d.Cost,
	}
	if d.Duration != nil {
		p.DurationSource = calls.DurationSourceProvider
	}
	return p
}

// ProviderError carries the provider's own failure message.
type ProviderError struct {
	Provider   string
	Endpoint   string
	StatusCode int // 0 for transport failures
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Endpoint, e.Message)
}

// Unwrap lets errors.Is match both calls.ErrProvider and the transport cause.
func (e *ProviderError) Unwrap() []error {
	if e.Err != nil {
		return []error{calls.ErrProvider, e.Err}
	}
	return []error{calls.ErrProvider}
}

// durationBetween derives whole seconds from provider timestamps.
func durationBetween(start, end *time.Time) *int {
	if start == nil || end == nil || start.IsZero() || end.IsZero() || end.Before(*start) {
		return nil
	}
	secs := int(end.Sub(*start).Round(time.Second) / time.Second)
	return &secs
}
