// Package controller bridges long-latency runner commands into a
// cooperative, non-blocking poll loop. At most one operation is in flight;
// Submit rejects concurrent work with ErrChannelBusy, Poll never blocks,
// and a fixed-interval Tick drives completion, timeouts, and crash
// recovery.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/NeoEmberArt/WhisperXFLOW/internal/metrics"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/protocol"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/service"
	"github.com/NeoEmberArt/WhisperXFLOW/internal/transcript"
)

var (
	// ErrOperationTimedOut means the operation exceeded its deadline.
	ErrOperationTimedOut = errors.New("operation timed out")

	// ErrUnknownOperation means the id does not name a live or unconsumed
	// operation. Results are destroyed once consumed.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrUnknownModel rejects a load for a model the runner does not ship.
	ErrUnknownModel = errors.New("unknown model")
)

// Kind distinguishes the command behind an operation.
type Kind int

const (
	KindLoadModel Kind = iota
	KindTranscribe
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindLoadModel:
		return "load_model"
	case KindTranscribe:
		return "transcribe"
	case KindShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Status is the poll outcome for an operation.
type Status int

const (
	StatusPending Status = iota
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Result is the consumed outcome of an operation.
type Result struct {
	Status     Status
	Kind       Kind
	Model      string                 // loaded model, for completed load_model
	Transcript *transcript.Transcript // for completed transcribe
	Err        error                  // for failed
}

// ServiceManager is the slice of the process manager the controller needs.
type ServiceManager interface {
	Start(ctx context.Context) error
	Stop()
	Restart(ctx context.Context) error
	Alive() bool
	State() service.State
	SetState(service.State)
	Channel() *protocol.Channel
}

// Options configures the controller.
type Options struct {
	Manager ServiceManager

	// Per-kind deadlines. Model loads may download weights; transcription
	// is bounded generously since audio length is unknown up front.
	LoadModelTimeout  time.Duration
	TranscribeTimeout time.Duration

	// Publish, when set, receives controller events for the UI stream.
	Publish func(eventType string, data map[string]any)

	Log zerolog.Logger
}

type operation struct {
	id        uuid.UUID
	kind      Kind
	issued    time.Time
	deadline  time.Time
	pending   *protocol.Pending
	cancelled bool
}

type finishedResult struct {
	result Result
	doneAt time.Time
}

// Controller tracks the single in-flight operation plus unconsumed results.
type Controller struct {
	opts Options
	mgr  ServiceManager
	log  zerolog.Logger

	mu          sync.Mutex
	current     *operation
	finished    map[uuid.UUID]finishedResult
	loadedModel string
	last        *transcript.Transcript
}

// New creates a controller around the given process manager.
func New(opts Options) *Controller {
	if opts.LoadModelTimeout <= 0 {
		opts.LoadModelTimeout = 10 * time.Minute
	}
	if opts.TranscribeTimeout <= 0 {
		opts.TranscribeTimeout = 30 * time.Minute
	}
	return &Controller{
		opts:     opts,
		mgr:      opts.Manager,
		log:      opts.Log,
		finished: make(map[uuid.UUID]finishedResult),
	}
}

// SubmitLoadModel validates the model name and issues load-model. The
// service is started implicitly when not running.
func (c *Controller) SubmitLoadModel(ctx context.Context, model string) (uuid.UUID, error) {
	if !IsKnownModel(model) {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	return c.submit(ctx, KindLoadModel, protocol.LoadModel(model), c.opts.LoadModelTimeout, service.StateModelLoading)
}

// SubmitTranscribe issues transcribe-audio for the given file path.
func (c *Controller) SubmitTranscribe(ctx context.Context, path string, diarize bool) (uuid.UUID, error) {
	return c.submit(ctx, KindTranscribe, protocol.TranscribeAudio(path, diarize), c.opts.TranscribeTimeout, service.StateTranscribing)
}

// SubmitShutdown stops the service. It is rejected with ErrChannelBusy
// while another operation is in flight; the result is immediate.
func (c *Controller) SubmitShutdown(ctx context.Context) (uuid.UUID, error) {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return uuid.Nil, protocol.ErrChannelBusy
	}
	c.loadedModel = ""
	c.mu.Unlock()

	c.mgr.Stop()

	id := uuid.New()
	c.mu.Lock()
	c.finished[id] = finishedResult{
		result: Result{Status: StatusCompleted, Kind: KindShutdown},
		doneAt: time.Now(),
	}
	c.mu.Unlock()
	metrics.CommandsTotal.WithLabelValues(KindShutdown.String(), "completed").Inc()
	c.publish("operation_completed", map[string]any{"operation_id": id.String(), "kind": KindShutdown.String()})
	return id, nil
}

func (c *Controller) submit(ctx context.Context, kind Kind, cmd protocol.Command, timeout time.Duration, busyState service.State) (uuid.UUID, error) {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return uuid.Nil, protocol.ErrChannelBusy
	}
	c.mu.Unlock()

	// Implicit start: submitting against a cold service spawns it first.
	if !c.mgr.Alive() {
		if err := c.mgr.Start(ctx); err != nil {
			metrics.CommandsTotal.WithLabelValues(kind.String(), "failed").Inc()
			return uuid.Nil, err
		}
	}

	ch := c.mgr.Channel()
	if ch == nil {
		return uuid.Nil, service.ErrServiceCrashed
	}
	p, err := ch.Send(cmd)
	if err != nil {
		return uuid.Nil, err
	}

	op := &operation{
		id:       uuid.New(),
		kind:     kind,
		issued:   time.Now(),
		deadline: time.Now().Add(timeout),
		pending:  p,
	}

	c.mu.Lock()
	if c.current != nil {
		// Lost the race to another submitter.
		c.mu.Unlock()
		p.Discard()
		return uuid.Nil, protocol.ErrChannelBusy
	}
	c.current = op
	c.mu.Unlock()

	c.mgr.SetState(busyState)
	c.log.Info().
		Str("operation_id", op.id.String()).
		Str("kind", kind.String()).
		Dur("timeout", timeout).
		Msg("operation submitted")
	c.publish("operation_submitted", map[string]any{"operation_id": op.id.String(), "kind": kind.String()})
	return op.id, nil
}

// Poll reports the state of an operation without blocking. A Completed or
// Failed result is consumed by the call that observes it; later polls for
// the same id return ErrUnknownOperation.
func (c *Controller) Poll(id uuid.UUID) (Result, error) {
	c.mu.Lock()
	op := c.current
	cancelled := op != nil && op.cancelled
	c.mu.Unlock()

	if op != nil && op.id == id && !cancelled {
		if resp, done := op.pending.Poll(); done {
			c.finalize(op, resp)
		} else {
			return Result{Status: StatusPending, Kind: op.kind}, nil
		}
	}

	c.mu.Lock()
	fr, ok := c.finished[id]
	if ok {
		delete(c.finished, id)
	}
	c.mu.Unlock()
	if ok {
		return fr.result, nil
	}
	return Result{}, ErrUnknownOperation
}

// Cancel abandons an operation host-side. The runner call itself is not
// interrupted (the runner has no cancel primitive) and its eventual
// response is discarded when it arrives. The channel stays busy until then.
func (c *Controller) Cancel(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.id == id {
		c.current.cancelled = true
		c.current.pending.Discard()
		c.log.Info().Str("operation_id", id.String()).Msg("operation cancelled, result will be discarded")
		return nil
	}
	if _, ok := c.finished[id]; ok {
		delete(c.finished, id)
		return nil
	}
	return ErrUnknownOperation
}

// Tick advances the in-flight operation: completion, timeout, and crash
// recovery. The host loop calls it at a fixed short interval; it never
// blocks on the runner.
func (c *Controller) Tick(ctx context.Context) {
	c.pruneFinished()

	c.mu.Lock()
	op := c.current
	c.mu.Unlock()
	if op == nil {
		return
	}

	if resp, done := op.pending.Poll(); done {
		c.finalize(op, resp)
		return
	}

	if time.Now().Before(op.deadline) {
		return
	}

	// Deadline exceeded. The channel becomes usable again only once the
	// process is confirmed still alive; a dead process means the timeout
	// was really a crash, and the service is restarted.
	if c.mgr.Alive() {
		c.log.Warn().
			Str("operation_id", op.id.String()).
			Str("kind", op.kind.String()).
			Msg("operation timed out, runner still responsive")
		if ch := c.mgr.Channel(); ch != nil {
			ch.Fail(fmt.Errorf("%w: %s after %s", ErrOperationTimedOut, op.kind, time.Since(op.issued).Round(time.Second)))
		}
		if resp, done := op.pending.Poll(); done {
			c.finalize(op, resp)
		}
		return
	}

	c.log.Error().
		Str("operation_id", op.id.String()).
		Str("kind", op.kind.String()).
		Msg("operation timed out with dead runner, restarting service")
	c.finalize(op, protocol.Response{Err: service.ErrServiceCrashed})
	if err := c.mgr.Restart(ctx); err != nil {
		c.log.Error().Err(err).Msg("restart after crash failed")
	}
}

// Run drives Tick at the given interval until ctx is cancelled. It stands
// in for the host UI's timer callback.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Busy reports whether an operation is in flight (including a cancelled
// one whose response has not yet arrived).
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// LoadedModel returns the model the runner currently has loaded, or "".
func (c *Controller) LoadedModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadedModel
}

// LastTranscript returns the most recent completed transcript for this
// session, or nil. Transcripts are not persisted across sessions.
func (c *Controller) LastTranscript() *transcript.Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// finalize consumes the response for op, records the result, and restores
// the service state. Safe to race between Poll and Tick: only the caller
// that removes op from current proceeds.
func (c *Controller) finalize(op *operation, resp protocol.Response) {
	c.mu.Lock()
	if c.current != op {
		c.mu.Unlock()
		return
	}
	c.current = nil
	cancelled := op.cancelled
	c.mu.Unlock()

	metrics.CommandDuration.WithLabelValues(op.kind.String()).Observe(time.Since(op.issued).Seconds())

	if cancelled {
		metrics.CommandsTotal.WithLabelValues(op.kind.String(), "discarded").Inc()
		c.restoreIdleState()
		c.publish("operation_discarded", map[string]any{"operation_id": op.id.String(), "kind": op.kind.String()})
		return
	}

	result := c.buildResult(op, resp)

	c.mu.Lock()
	c.finished[op.id] = finishedResult{result: result, doneAt: time.Now()}
	c.mu.Unlock()

	if result.Status == StatusCompleted {
		metrics.CommandsTotal.WithLabelValues(op.kind.String(), "completed").Inc()
		c.log.Info().
			Str("operation_id", op.id.String()).
			Str("kind", op.kind.String()).
			Dur("elapsed", time.Since(op.issued)).
			Msg("operation completed")
		c.publish("operation_completed", map[string]any{
			"operation_id": op.id.String(),
			"kind":         op.kind.String(),
		})
	} else {
		metrics.CommandsTotal.WithLabelValues(op.kind.String(), "failed").Inc()
		c.log.Warn().
			Str("operation_id", op.id.String()).
			Str("kind", op.kind.String()).
			Err(result.Err).
			Msg("operation failed")
		c.publish("operation_failed", map[string]any{
			"operation_id": op.id.String(),
			"kind":         op.kind.String(),
			"error":        result.Err.Error(),
		})
	}
}

func (c *Controller) buildResult(op *operation, resp protocol.Response) Result {
	if resp.Err != nil {
		c.restoreIdleState()
		return Result{Status: StatusFailed, Kind: op.kind, Err: resp.Err}
	}

	switch op.kind {
	case KindLoadModel:
		c.mu.Lock()
		c.loadedModel = resp.Model
		c.mu.Unlock()
		if c.mgr.Alive() {
			c.mgr.SetState(service.StateModelLoaded)
		}
		return Result{Status: StatusCompleted, Kind: op.kind, Model: resp.Model}

	case KindTranscribe:
		tr, err := transcript.Decode(resp.Raw)
		if err != nil {
			c.restoreIdleState()
			return Result{
				Status: StatusFailed,
				Kind:   op.kind,
				Err:    fmt.Errorf("%w: %v", protocol.ErrMalformedResponse, err),
			}
		}
		c.mu.Lock()
		c.last = tr
		c.mu.Unlock()
		c.restoreIdleState()
		return Result{Status: StatusCompleted, Kind: op.kind, Transcript: tr}
	}

	return Result{Status: StatusCompleted, Kind: op.kind}
}

// restoreIdleState returns the service state to its idle value after a
// command resolves, unless the manager already moved it (crash, stop).
func (c *Controller) restoreIdleState() {
	if !c.mgr.Alive() {
		return
	}
	s := c.mgr.State()
	if s != service.StateModelLoading && s != service.StateTranscribing {
		return
	}
	c.mu.Lock()
	hasModel := c.loadedModel != ""
	c.mu.Unlock()
	if hasModel {
		c.mgr.SetState(service.StateModelLoaded)
	} else {
		c.mgr.SetState(service.StateReady)
	}
}

// pruneFinished drops unconsumed results after a retention window so
// fire-and-forget submissions (e.g. from the drop-dir watcher) do not
// accumulate.
func (c *Controller) pruneFinished() {
	const retention = 10 * time.Minute
	cutoff := time.Now().Add(-retention)
	c.mu.Lock()
	for id, fr := range c.finished {
		if fr.doneAt.Before(cutoff) {
			delete(c.finished, id)
		}
	}
	c.mu.Unlock()
}

func (c *Controller) publish(eventType string, data map[string]any) {
	if c.opts.Publish != nil {
		c.opts.Publish(eventType, data)
	}
}
