package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"phonescreen-console/internal/audit"
	"phonescreen-console/internal/calls"
	"phonescreen-console/internal/callstore"
	"phonescreen-console/internal/metrics"
	"phonescreen-console/internal/summary"
	"phonescreen-console/internal/telephony"

	"github.com/google/uuid"
)

// ErrSummaryInFlight is returned when a summary is already being generated for the call.
var ErrSummaryInFlight = errors.New("summary generation already in progress")

// Gateway is the part of telephony.VoiceGateway the driver uses.
type Gateway interface {
	CreateCall(ctx context.Context, req telephony.CreateCallRequest) (telephony.CallHandle, error)
	FetchDetails(ctx context.Context, providerCallID string) (telephony.CallDetails, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, t summary.Transcript) (string, error)
}

type Config struct {
	// Tick is the live duration clock resolution.
	Tick time.Duration
	// FetchDelay is how long after ending a call the details are fetched.
	FetchDelay time.Duration
	// RemoteTimeout bounds every provider request.
	RemoteTimeout time.Duration
	// MaxAlerts is kept per session; older alerts are dropped.
	MaxAlerts int
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.FetchDelay <= 0 {
		c.FetchDelay = 2 * time.Second
	}
	if c.RemoteTimeout <= 0 {
		c.RemoteTimeout = 30 * time.Second
	}
	if c.MaxAlerts <= 0 {
		c.MaxAlerts = 20
	}
	return c
}

type StartRequest struct {
	PhoneNumber   string `json:"phoneNumber"`
	RecipientName string `json:"recipientName"`
	AssistantID   string `json:"assistantId,omitempty"`
}

// Trigger labels why a detail fetch ran.
type Trigger string

const (
	TriggerDeferred Trigger = "deferred"
	TriggerPageLoad Trigger = "page_load"
	TriggerManual   Trigger = "manual"
)

// Driver keeps the call store in step with the voice provider and the
// summary generator on behalf of open console views.
//
// Remote requests are never cancelled by the caller or by Close; their
// results are merged into the store by call id whenever they arrive.
type Driver struct {
	store      callstore.Store
	gateway    Gateway
	summarizer Summarizer
	audit      *audit.Service
	logger     *slog.Logger
	metrics    *metrics.Metrics
	cfg        Config

	clock func() time.Time
	newID func() string

	// OnAlert, when set, receives every alert after it is recorded.
	OnAlert func(Alert)

	mu          sync.Mutex
	sessions    map[string]*session
	summarizing map[string]bool
	closed      bool
	wg          sync.WaitGroup

	// applyMu orders fetch results: the generation check and the merge
	// happen together so a late stale result can never overwrite a newer one.
	applyMu sync.Mutex
	issued  map[string]uint64
	applied map[string]uint64
}

// NewDriver wires the driver. auditSvc and m may be nil.
func NewDriver(store callstore.Store, gateway Gateway, summarizer Summarizer, auditSvc *audit.Service, logger *slog.Logger, m *metrics.Metrics, cfg Config) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		store:       store,
		gateway:     gateway,
		summarizer:  summarizer,
		audit:       auditSvc,
		logger:      logger.With("component", "reconcile"),
		metrics:     m,
		cfg:         cfg.withDefaults(),
		clock:       time.Now,
		newID:       uuid.NewString,
		sessions:    map[string]*session{},
		summarizing: map[string]bool{},
		issued:      map[string]uint64{},
		applied:     map[string]uint64{},
	}
}

// StartCall places an outbound call and records it. Input is validated before
// the provider is contacted. The session is opened in pending-creation under
// the new local id before the provider call; when placing or saving the call
// fails the session moves to error, keeps the alert, and the returned Call
// carries only that id.
func (d *Driver) StartCall(ctx context.Context, req StartRequest) (calls.Call, error) {
	phone := strings.TrimSpace(req.PhoneNumber)
	name := strings.TrimSpace(req.RecipientName)
	if phone == "" || name == "" {
		return calls.Call{}, fmt.Errorf("%w: Phone number and recipient name are required", calls.ErrValidation)
	}

	c := calls.Call{
		ID:            d.newID(),
		PhoneNumber:   phone,
		RecipientName: name,
		StartedAt:     d.clock().UTC(),
	}
	d.mu.Lock()
	d.sessionLocked(c).state = StatePendingCreation
	d.mu.Unlock()

	rctx, cancel := d.remoteContext(ctx)
	handle, err := d.gateway.CreateCall(rctx, telephony.CreateCallRequest{
		PhoneNumber:   phone,
		RecipientName: name,
		AssistantID:   strings.TrimSpace(req.AssistantID),
	})
	cancel()
	if err != nil {
		d.failStart(c.ID, fmt.Sprintf("Failed to create call: %v", err))
		return calls.Call{ID: c.ID}, err
	}

	c.VapiCallID = handle.ProviderCallID
	c.Status = handle.Status
	if c.Status == "" {
		c.Status = calls.CallStatusInitiated
	}
	if err := d.store.Replace(ctx, c); err != nil {
		d.failStart(c.ID, fmt.Sprintf("Failed to save call: %v", err))
		return calls.Call{ID: c.ID}, err
	}
	stored, err := d.store.FindByID(ctx, c.ID)
	if err != nil {
		return calls.Call{}, err
	}

	d.mu.Lock()
	s := d.sessionLocked(stored)
	if stored.Status.IsLive() {
		s.state = StateLive
		d.startClockLocked(s)
	} else {
		s.state = StateSettled
	}
	d.mu.Unlock()

	d.record(ctx, audit.Event{
		CallID:         stored.ID,
		ProviderCallID: stored.VapiCallID,
		Type:           audit.EventTypeCallCreated,
		Trigger:        string(TriggerManual),
		Message:        "call placed to " + name,
	})
	d.logger.Info("call started", "call_id", stored.ID, "provider_call_id", stored.VapiCallID, "status", stored.Status)
	return stored, nil
}

func (d *Driver) failStart(callID, message string) {
	d.mu.Lock()
	if s, ok := d.sessions[callID]; ok {
		s.state = StateError
	}
	d.mu.Unlock()
	d.raise(callID, AlertCreateFailed, message)
}

// Open is the page load of a call view. It accepts a local or provider id,
// starts the clock for calls still live, and fetches details for a completed
// call that has no transcript yet.
func (d *Driver) Open(ctx context.Context, id string) (calls.Call, Snapshot, error) {
	c, err := d.store.FindByID(ctx, id)
	if err != nil {
		return calls.Call{}, Snapshot{}, err
	}

	needsDetails := c.Status == calls.CallStatusCompleted && !c.HasTranscript()

	d.mu.Lock()
	s := d.sessionLocked(c)
	switch {
	case c.Status.IsLive():
		s.state = StateLive
		d.startClockLocked(s)
	case needsDetails:
		s.state = StateAwaitingDetails
		s.liveDuration = c.Duration
	default:
		if s.state == StateIdle {
			s.state = StateSettled
		}
		s.liveDuration = c.Duration
	}
	d.mu.Unlock()

	if needsDetails {
		d.spawn(func() {
			_, _ = d.fetchDetails(context.Background(), c.ID, TriggerPageLoad)
		})
	}

	snap, _ := d.Snapshot(c.ID)
	return c, snap, nil
}

// EndCall marks the call completed, freezes the live clock into the stored
// duration and schedules exactly one deferred detail fetch. Ending a call
// that is already terminal does nothing.
func (d *Driver) EndCall(ctx context.Context, id string) (calls.Call, error) {
	c, err := d.store.FindByID(ctx, id)
	if err != nil {
		return calls.Call{}, err
	}
	if c.Status.IsTerminal() {
		return c, nil
	}

	now := d.clock().UTC()
	d.mu.Lock()
	s := d.sessionLocked(c)
	s.stopClock()
	s.liveDuration = elapsed(c.StartedAt, now)
	frozen := s.liveDuration
	d.mu.Unlock()

	merged, err := d.store.UpsertMerge(ctx, c.ID, calls.Patch{
		Status:         calls.Ptr(calls.CallStatusCompleted),
		EndedAt:        &now,
		Duration:       &frozen,
		DurationSource: calls.DurationSourceLocal,
	})
	if err != nil {
		d.raise(c.ID, AlertEndFailed, fmt.Sprintf("Failed to end call: %v", err))
		return calls.Call{}, err
	}

	d.mu.Lock()
	if s, ok := d.sessions[c.ID]; ok {
		s.state = StateAwaitingDetails
		d.scheduleFetchLocked(s)
	}
	d.mu.Unlock()

	d.record(ctx, audit.Event{
		CallID:         c.ID,
		ProviderCallID: c.VapiCallID,
		Type:           audit.EventTypeCallEnded,
		Trigger:        string(TriggerManual),
		Message:        fmt.Sprintf("ended after %ds", frozen),
	})
	d.logger.Info("call ended", "call_id", c.ID, "duration", frozen)
	return merged, nil
}

// CheckForUpdates fetches details now and returns the stored record.
func (d *Driver) CheckForUpdates(ctx context.Context, id string) (calls.Call, error) {
	return d.fetchDetails(ctx, id, TriggerManual)
}

// RegenerateSummary summarizes the stored transcript again. A failure keeps
// the previous summary and raises an alert.
func (d *Driver) RegenerateSummary(ctx context.Context, id string) (calls.Call, error) {
	c, err := d.store.FindByID(ctx, id)
	if err != nil {
		return calls.Call{}, err
	}
	if !c.HasTranscript() {
		return calls.Call{}, fmt.Errorf("%w: Transcript is required", calls.ErrValidation)
	}

	d.mu.Lock()
	if d.summarizing[c.ID] {
		d.mu.Unlock()
		return calls.Call{}, ErrSummaryInFlight
	}
	d.summarizing[c.ID] = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.summarizing, c.ID)
		d.mu.Unlock()
	}()

	rctx, cancel := d.remoteContext(ctx)
	text, err := d.summarizer.Summarize(rctx, summary.TextTranscript(*c.Transcript))
	cancel()
	if err != nil {
		d.raise(c.ID, AlertSummaryFailed, err.Error())
		return calls.Call{}, err
	}

	merged, err := d.store.UpsertMerge(context.WithoutCancel(ctx), c.ID, calls.Patch{Summary: &text})
	if err != nil {
		d.raise(c.ID, AlertSummaryFailed, fmt.Sprintf("Failed to save summary: %v", err))
		return calls.Call{}, err
	}
	d.record(ctx, audit.Event{
		CallID:         c.ID,
		ProviderCallID: c.VapiCallID,
		Type:           audit.EventTypeSummaryGenerated,
		Trigger:        string(TriggerManual),
	})
	return merged, nil
}

// Close tears down the view of a call: the clock and any pending deferred
// fetch are cancelled. Requests already in flight still land in the store.
func (d *Driver) Close(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.findSessionLocked(id)
	if s == nil {
		return false
	}
	d.closeSessionLocked(s)
	return true
}

// Snapshot returns the session view of an open call.
func (d *Driver) Snapshot(id string) (Snapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.findSessionLocked(id)
	if s == nil {
		return Snapshot{}, false
	}
	return s.snapshot(d.summarizing[s.callID]), true
}

// CloseAll closes every open session, e.g. after the store was cleared.
func (d *Driver) CloseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeAllLocked()
}

func (d *Driver) closeAllLocked() {
	for _, s := range d.sessions {
		d.closeSessionLocked(s)
	}
}

// Shutdown closes every session and waits for background fetches until ctx is done.
func (d *Driver) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.closeAllLocked()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetchDetails asks the provider for post-call artifacts and merges what is
// present. Each fetch takes a generation when it starts; its result is
// applied only if no newer fetch has been applied meanwhile.
func (d *Driver) fetchDetails(ctx context.Context, id string, trigger Trigger) (calls.Call, error) {
	c, err := d.store.FindByID(ctx, id)
	if err != nil {
		return calls.Call{}, err
	}
	providerID := c.ProviderID()
	if providerID == "" {
		err := fmt.Errorf("%w: call %s has no provider call id", calls.ErrValidation, c.ID)
		d.failFetch(c.ID, trigger, err)
		return calls.Call{}, err
	}

	gen := d.claimGeneration(c.ID)
	d.setFetching(c.ID, 1)
	defer d.setFetching(c.ID, -1)

	rctx, cancel := d.remoteContext(ctx)
	details, err := d.gateway.FetchDetails(rctx, providerID)
	cancel()
	if err != nil {
		d.failFetch(c.ID, trigger, err)
		return calls.Call{}, err
	}

	merged, applied, err := d.applyDetails(context.WithoutCancel(ctx), c.ID, gen, details)
	if err != nil {
		d.failFetch(c.ID, trigger, err)
		return calls.Call{}, err
	}

	if !applied {
		d.observeFetch(trigger, "stale")
		if d.metrics != nil {
			d.metrics.StaleFetches.Inc()
		}
		d.record(ctx, audit.Event{CallID: c.ID, ProviderCallID: providerID, Type: audit.EventTypeFetchDropped, Trigger: string(trigger)})
		d.logger.Info("stale detail fetch dropped", "call_id", c.ID, "generation", gen)
		return merged, nil
	}

	d.mu.Lock()
	if s, ok := d.sessions[c.ID]; ok && !merged.Status.IsLive() {
		s.state = StateSettled
		if merged.DurationSource == calls.DurationSourceProvider {
			s.liveDuration = merged.Duration
		}
	}
	d.mu.Unlock()

	d.observeFetch(trigger, "applied")
	d.record(ctx, audit.Event{CallID: c.ID, ProviderCallID: providerID, Type: audit.EventTypeDetailsApplied, Trigger: string(trigger)})
	return merged, nil
}

func (d *Driver) claimGeneration(callID string) uint64 {
	d.applyMu.Lock()
	defer d.applyMu.Unlock()
	d.issued[callID]++
	return d.issued[callID]
}

// applyDetails merges details for generation gen. It returns applied=false,
// with the current stored record, when a newer generation already landed.
func (d *Driver) applyDetails(ctx context.Context, callID string, gen uint64, details telephony.CallDetails) (calls.Call, bool, error) {
	d.applyMu.Lock()
	defer d.applyMu.Unlock()

	if gen <= d.applied[callID] {
		c, err := d.store.FindByID(ctx, callID)
		return c, false, err
	}

	var (
		merged calls.Call
		err    error
	)
	patch := details.Patch()
	if patch.IsEmpty() {
		merged, err = d.store.FindByID(ctx, callID)
	} else {
		merged, err = d.store.UpsertMerge(ctx, callID, patch)
	}
	if err != nil {
		return calls.Call{}, false, err
	}
	d.applied[callID] = gen
	return merged, true, nil
}

func (d *Driver) failFetch(callID string, trigger Trigger, err error) {
	d.mu.Lock()
	if s, ok := d.sessions[callID]; ok {
		s.state = StateError
	}
	d.mu.Unlock()
	d.observeFetch(trigger, "error")
	d.raise(callID, AlertFetchFailed, fmt.Sprintf("Failed to fetch call details: %v", err))
}

func (d *Driver) setFetching(callID string, delta int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[callID]; ok {
		s.fetching += delta
		if s.fetching < 0 {
			s.fetching = 0
		}
	}
}

// scheduleFetchLocked arms the single deferred fetch of a session.
func (d *Driver) scheduleFetchLocked(s *session) {
	s.cancelDeferred()
	callID := s.callID
	var t *time.Timer
	t = time.AfterFunc(d.cfg.FetchDelay, func() {
		d.mu.Lock()
		cur, ok := d.sessions[callID]
		if !ok || cur.deferred != t {
			// session closed or timer replaced since it was armed
			d.mu.Unlock()
			return
		}
		cur.deferred = nil
		if d.closed {
			d.mu.Unlock()
			return
		}
		d.wg.Add(1)
		d.mu.Unlock()
		defer d.wg.Done()

		_, _ = d.fetchDetails(context.Background(), callID, TriggerDeferred)
	})
	s.deferred = t
}

// spawn runs fn in the background unless the driver is shut down.
func (d *Driver) spawn(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

func (d *Driver) startClockLocked(s *session) {
	s.liveDuration = elapsed(s.startedAt, d.clock())
	if s.clockStop != nil {
		return
	}
	stop := make(chan struct{})
	s.clockStop = stop
	go func() {
		t := time.NewTicker(d.cfg.Tick)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				d.mu.Lock()
				if s.clockStop == stop {
					s.liveDuration = elapsed(s.startedAt, d.clock())
				}
				d.mu.Unlock()
			}
		}
	}()
}

// sessionLocked returns the session of c, opening one if needed.
func (d *Driver) sessionLocked(c calls.Call) *session {
	if s, ok := d.sessions[c.ID]; ok {
		s.providerID = c.VapiCallID
		return s
	}
	s := &session{
		callID:     c.ID,
		providerID: c.VapiCallID,
		state:      StateIdle,
		startedAt:  c.StartedAt,
	}
	d.sessions[c.ID] = s
	if d.metrics != nil {
		d.metrics.OpenSessions.Inc()
	}
	return s
}

func (d *Driver) findSessionLocked(id string) *session {
	if id == "" {
		return nil
	}
	if s, ok := d.sessions[id]; ok {
		return s
	}
	for _, s := range d.sessions {
		if s.providerID != "" && s.providerID == id {
			return s
		}
	}
	return nil
}

func (d *Driver) closeSessionLocked(s *session) {
	s.stopClock()
	s.cancelDeferred()
	delete(d.sessions, s.callID)
	if d.metrics != nil {
		d.metrics.OpenSessions.Dec()
	}
}

// raise records a user-visible alert on the call's session (if open), logs
// it and hands it to OnAlert.
func (d *Driver) raise(callID string, kind AlertKind, message string) {
	a := Alert{At: d.clock().UTC(), CallID: callID, Kind: kind, Message: message}

	d.mu.Lock()
	if s, ok := d.sessions[callID]; ok {
		s.addAlert(a, d.cfg.MaxAlerts)
	}
	hook := d.OnAlert
	d.mu.Unlock()

	d.logger.Warn("alert", "call_id", callID, "kind", kind, "message", message)
	if d.metrics != nil {
		d.metrics.Alerts.WithLabelValues(string(kind)).Inc()
	}
	if callID != "" {
		d.record(context.Background(), audit.Event{CallID: callID, Type: audit.EventTypeAlert, Message: message})
	}
	if hook != nil {
		hook(a)
	}
}

func (d *Driver) record(ctx context.Context, e audit.Event) {
	if d.audit == nil {
		return
	}
	d.audit.Record(context.WithoutCancel(ctx), e)
}

func (d *Driver) observeFetch(trigger Trigger, outcome string) {
	if d.metrics == nil {
		return
	}
	d.metrics.Reconciliations.WithLabelValues(string(trigger), outcome).Inc()
}

// remoteContext detaches provider calls from the caller's cancellation and
// bounds them with the configured timeout.
func (d *Driver) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d.cfg.RemoteTimeout)
}

func elapsed(start, now time.Time) int {
	if start.IsZero() || now.Before(start) {
		return 0
	}
	return int(now.Sub(start) / time.Second)
}
