package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"phonescreen-console/internal/calls"
	"phonescreen-console/internal/metrics"
)

const (
	vapiProvider       = "vapi"
	defaultVapiBaseURL = "https://api.vapi.ai"
	defaultListLimit   = 10
)

// VapiConfig holds Vapi client configuration. APIKey and PhoneNumberID may be
// empty at boot; calls that need them fail with calls.ErrConfiguration.
type VapiConfig struct {
	BaseURL       string
	APIKey        string
	AssistantID   string
	PhoneNumberID string
	Timeout       time.Duration
	Persona       Persona
}

// VapiGateway talks to the Vapi REST API.
type VapiGateway struct {
	logger  *slog.Logger
	cfg     VapiConfig
	baseURL string
	http    *http.Client
	metrics *metrics.Metrics
}

func NewVapiGateway(cfg VapiConfig, logger *slog.Logger, m *metrics.Metrics) *VapiGateway {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultVapiBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cfg.Persona = cfg.Persona.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &VapiGateway{
		logger:  logger.With("component", "vapi"),
		cfg:     cfg,
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		metrics: m,
	}
}

func (g *VapiGateway) Name() string { return vapiProvider }

// HealthCheck lists a single call; it proves both reachability and the key.
func (g *VapiGateway) HealthCheck(ctx context.Context) error {
	_, err := g.ListCalls(ctx, 1)
	return err
}

type vapiCustomer struct {
	Number string `json:"number"`
	Name   string `json:"name"`
}

type vapiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type vapiModel struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Messages []vapiMessage `json:"messages"`
}

type vapiAssistantOverrides struct {
	FirstMessage string    `json:"firstMessage"`
	Model        vapiModel `json:"model"`
}

type vapiCreateCallBody struct {
	Customer           vapiCustomer           `json:"customer"`
	AssistantID        string                 `json:"assistantId,omitempty"`
	PhoneNumberID      string                 `json:"phoneNumberId"`
	AssistantOverrides vapiAssistantOverrides `json:"assistantOverrides"`
}

func (g *VapiGateway) CreateCall(ctx context.Context, req CreateCallRequest) (CallHandle, error) {
	phone := strings.TrimSpace(req.PhoneNumber)
	name := strings.TrimSpace(req.RecipientName)
	if phone == "" || name == "" {
		return CallHandle{}, fmt.Errorf("%w: Phone number and recipient name are required", calls.ErrValidation)
	}
	if err := g.requireKey(); err != nil {
		return CallHandle{}, err
	}
	if g.cfg.PhoneNumberID == "" {
		return CallHandle{}, fmt.Errorf("%w: VAPI_PHONE_NUMBER_ID is required to place calls", calls.ErrConfiguration)
	}

	assistantID := strings.TrimSpace(req.AssistantID)
	if assistantID == "" {
		assistantID = g.cfg.AssistantID
	}
	persona := g.cfg.Persona
	body := vapiCreateCallBody{
		Customer:      vapiCustomer{Number: phone, Name: name},
		AssistantID:   assistantID,
		PhoneNumberID: g.cfg.PhoneNumberID,
		AssistantOverrides: vapiAssistantOverrides{
			FirstMessage: persona.FirstMessage,
			Model: vapiModel{
				Provider: persona.ModelProvider,
				Model:    persona.Model,
				Messages: []vapiMessage{{Role: "system", Content: persona.SystemPrompt}},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return CallHandle{}, fmt.Errorf("encode create call: %w", err)
	}

	var res createCallResponse
	if err := g.do(ctx, http.MethodPost, "/call", "create_call", bytes.NewReader(payload), &res); err != nil {
		return CallHandle{}, err
	}
	h := res.Handle()
	g.logger.Info("call created", "provider_call_id", h.ProviderCallID, "status", h.Status, "shape", res.Shape)
	return h, nil
}

func (g *VapiGateway) FetchDetails(ctx context.Context, providerCallID string) (CallDetails, error) {
	id := strings.TrimSpace(providerCallID)
	if id == "" {
		return CallDetails{}, fmt.Errorf("%w: provider call id required", calls.ErrValidation)
	}
	if err := g.requireKey(); err != nil {
		return CallDetails{}, err
	}
	var res vapiCallResource
	if err := g.do(ctx, http.MethodGet, "/call/"+url.PathEscape(id), "get_call", nil, &res); err != nil {
		return CallDetails{}, err
	}
	return res.details(), nil
}

func (g *VapiGateway) ListCalls(ctx context.Context, limit int) (json.RawMessage, error) {
	if err := g.requireKey(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	var raw json.RawMessage
	endpoint := "/call?limit=" + strconv.Itoa(limit)
	if err := g.do(ctx, http.MethodGet, endpoint, "list_calls", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (g *VapiGateway) requireKey() error {
	if strings.TrimSpace(g.cfg.APIKey) == "" {
		return fmt.Errorf("%w: Vapi API key not configured", calls.ErrConfiguration)
	}
	return nil
}

// do performs one request. label is the low-cardinality metric name of the endpoint.
func (g *VapiGateway) do(ctx context.Context, method, endpoint, label string, body io.Reader, dest any) error {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "phonescreen-console/vapi-client")

	start := time.Now()
	res, err := g.http.Do(req)
	if err != nil {
		g.observe(label, "error", start)
		return &ProviderError{Provider: vapiProvider, Endpoint: label, Message: err.Error(), Err: err}
	}
	defer res.Body.Close()
	g.observe(label, strconv.Itoa(res.StatusCode), start)

	bodyBytes, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return &ProviderError{Provider: vapiProvider, Endpoint: label, StatusCode: res.StatusCode, Message: "read response: " + err.Error(), Err: err}
	}
	if res.StatusCode >= 400 {
		msg := errorMessage(bodyBytes)
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		g.logger.Warn("vapi request failed", "endpoint", label, "status", res.StatusCode, "message", msg)
		return &ProviderError{Provider: vapiProvider, Endpoint: label, StatusCode: res.StatusCode, Message: msg}
	}
	if dest == nil {
		return nil
	}
	if len(bytes.TrimSpace(bodyBytes)) == 0 {
		if e, ok := dest.(emptyBodyAccepter); ok {
			e.acceptEmpty()
			return nil
		}
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return &ProviderError{Provider: vapiProvider, Endpoint: label, StatusCode: res.StatusCode, Message: "decode response: " + err.Error(), Err: err}
	}
	return nil
}

func (g *VapiGateway) observe(endpoint, status string, start time.Time) {
	if g.metrics == nil {
		return
	}
	g.metrics.ProviderRequests.WithLabelValues(vapiProvider, endpoint, status).Inc()
	g.metrics.ProviderLatency.WithLabelValues(vapiProvider, endpoint).Observe(time.Since(start).Seconds())
	if status == "error" || strings.HasPrefix(status, "4") || strings.HasPrefix(status, "5") {
		g.metrics.Errors.WithLabelValues("vapi").Inc()
	}
}

// errorMessage pulls a human message out of a Vapi error body. Vapi sends
// "message" as either a string or a list of validation strings.
func errorMessage(body []byte) string {
	var env struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return strings.TrimSpace(string(body))
	}
	if len(env.Message) > 0 {
		var s string
		if err := json.Unmarshal(env.Message, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		var list []string
		if err := json.Unmarshal(env.Message, &list); err == nil && len(list) > 0 {
			return strings.Join(list, "; ")
		}
	}
	return strings.TrimSpace(env.Error)
}

// ResponseShape names which variant of the create response arrived.
type ResponseShape string

const (
	ShapeSingle  ResponseShape = "single"
	ShapeBatch   ResponseShape = "batch"
	ShapeUnknown ResponseShape = "unknown"
)

type vapiCallRef struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// createCallResponse is the union Vapi answers a create with: a single call
// object, or a batch envelope with results.
type createCallResponse struct {
	Shape   ResponseShape
	Single  vapiCallRef
	Results []vapiCallRef
}

// emptyBodyAccepter is implemented by responses for which a 2xx with no body
// is a valid answer.
type emptyBodyAccepter interface {
	acceptEmpty()
}

// acceptEmpty: the provider accepted the call but said nothing about it.
func (r *createCallResponse) acceptEmpty() { r.Shape = ShapeUnknown }

// UnmarshalJSON never fails on well-formed JSON. Anything that is not an
// object carrying id or results is ShapeUnknown, since the call may already
// be ringing upstream.
func (r *createCallResponse) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		r.Shape = ShapeUnknown
		return nil
	}
	if _, ok := fields["id"]; ok {
		r.Shape = ShapeSingle
		return json.Unmarshal(data, &r.Single)
	}
	if raw, ok := fields["results"]; ok {
		r.Shape = ShapeBatch
		if string(raw) == "null" {
			return nil
		}
		return json.Unmarshal(raw, &r.Results)
	}
	r.Shape = ShapeUnknown
	return nil
}

// Handle normalizes both shapes. The first batch result wins; an empty or
// unrecognized response yields an empty id with status initiated.
func (r createCallResponse) Handle() CallHandle {
	var ref vapiCallRef
	switch r.Shape {
	case ShapeSingle:
		ref = r.Single
	case ShapeBatch:
		if len(r.Results) > 0 {
			ref = r.Results[0]
		}
	}
	status, _ := calls.ParseStatus(ref.Status)
	return CallHandle{ProviderCallID: ref.ID, Status: status}
}

type vapiCallResource struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	Transcript      *string    `json:"transcript"`
	Summary         *string    `json:"summary"`
	Duration        *float64   `json:"duration"`
	DurationSeconds *float64   `json:"durationSeconds"`
	StartedAt       *time.Time `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt"`
	Cost            *float64   `json:"cost"`
	Analysis        *struct {
		Summary *string `json:"summary"`
	} `json:"analysis"`
	Artifact *struct {
		Transcript *string `json:"transcript"`
	} `json:"artifact"`
}

func (r vapiCallResource) details() CallDetails {
	var d CallDetails

	if r.Transcript != nil {
		d.Transcript = nonBlank(*r.Transcript)
	}
	if d.Transcript == nil && r.Artifact != nil && r.Artifact.Transcript != nil {
		d.Transcript = nonBlank(*r.Artifact.Transcript)
	}

	if r.Analysis != nil && r.Analysis.Summary != nil {
		d.Summary = nonBlank(*r.Analysis.Summary)
	}
	if d.Summary == nil && r.Summary != nil {
		d.Summary = nonBlank(*r.Summary)
	}

	switch {
	case r.Duration != nil && *r.Duration > 0:
		d.Duration = calls.Ptr(int(*r.Duration + 0.5))
	case r.DurationSeconds != nil && *r.DurationSeconds > 0:
		d.Duration = calls.Ptr(int(*r.DurationSeconds + 0.5))
	default:
		d.Duration = durationBetween(r.StartedAt, r.EndedAt)
	}

	if r.Cost != nil {
		d.Cost = calls.Ptr(*r.Cost)
	}
	return d
}

func nonBlank(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
