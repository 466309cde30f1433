// Package bus is the in-process request/response fabric described in spec
// §2/§5: correlation-ID'd envelopes, per-request deadlines, and the per-
// state LLM mutual-exclusion lock/flag pair that makes a second concurrent
// chat request return "busy" instead of queuing behind the first.
//
// Grounded on the teacher's internal/realtime/bus (Bus interface, a Redis
// pub/sub forwarder) repointed from SSE fan-out to agent-to-agent dispatch;
// the correlation-ID envelope shape generalizes jordigilh-kubernaut's
// request/response style for an LLM-agent/state-machine codebase.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nwbconvert/orchestrator/internal/platform/logger"
)

// Kind identifies which agent handler a Request is destined for (spec §2
// data flow: Conversation -> Conversion -> Evaluation -> Conversation).
type Kind string

const (
	KindConversationUpload      Kind = "conversation.on_upload"
	KindConversationStart       Kind = "conversation.on_start_conversion"
	KindConversationChat        Kind = "conversation.on_chat"
	KindConversationImprovement Kind = "conversation.on_improvement_decision"
	KindConversionConvert       Kind = "conversion.convert"
	KindConversionApplyFixes    Kind = "conversion.apply_corrections"
	KindEvaluationValidate      Kind = "evaluation.run_validation"
	KindEvaluationCategorize    Kind = "evaluation.categorize_issues"
)

// Request is one dispatched message on the bus (spec §5 "the bus carries
// correlation IDs so responses match requests").
type Request struct {
	CorrelationID uuid.UUID
	Kind          Kind
	Payload       any
	Deadline      time.Time
}

// Handler processes one Request and returns a result or an error. Handlers
// run serially per session — the bus is a single cooperative event loop
// (spec §5), never a pool of concurrent workers.
type Handler func(ctx context.Context, req Request) (any, error)

// ErrBusy names the "LLM already in flight" condition (spec §5, §7 "busy").
// Dispatch never returns it; TryAcquireLLM reports busy as a false result
// and the Conversation Agent answers with a busy ChatResponse.
var ErrBusy = fmt.Errorf("bus: llm busy")

// Bus is the in-process fabric every agent dispatches through.
type Bus struct {
	log *logger.Logger

	mu       sync.Mutex
	handlers map[Kind]Handler

	llmMu         sync.Mutex
	llmProcessing bool

	broadcaster StatusBroadcaster
}

// StatusBroadcaster optionally publishes llm_processing transitions so a
// polling GET /api/status caller observes the flag flip without racing the
// chat response (spec §12 supplement 3).
type StatusBroadcaster interface {
	PublishLLMProcessing(ctx context.Context, sessionID uuid.UUID, processing bool) error
}

// New constructs an empty Bus. broadcaster may be nil (no-op broadcasting).
func New(log *logger.Logger, broadcaster StatusBroadcaster) *Bus {
	return &Bus{
		log:         log.With("component", "bus"),
		handlers:    make(map[Kind]Handler),
		broadcaster: broadcaster,
	}
}

// Register binds a Kind to the Handler that processes it. Call during
// wiring, before any Dispatch.
func (b *Bus) Register(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = h
}

// Dispatch sends a request to its registered handler, blocking the caller
// until the handler returns or the deadline elapses (spec §5 "single
// cooperative event loop"; "Dispatch blocks the caller's goroutine"). A
// missing Deadline defaults to no timeout.
func (b *Bus) Dispatch(ctx context.Context, req Request) (any, error) {
	if req.CorrelationID == uuid.Nil {
		req.CorrelationID = uuid.New()
	}
	b.mu.Lock()
	h, ok := b.handlers[req.Kind]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("bus: no handler registered for %s", req.Kind)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if !req.Deadline.IsZero() {
		callCtx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	log := b.log.With("correlation_id", req.CorrelationID.String(), "kind", string(req.Kind))
	log.Debug("dispatching")
	result, err := h(callCtx, req)
	if err != nil {
		log.Warn("handler error", "error", err)
	}
	return result, err
}

// TryAcquireLLM attempts to take the per-state LLM lock. It returns
// (true, release) on success, or (false, nil) if another LLM call is
// already in flight — the caller must then report busy rather than
// queue behind it (spec §5 "overlapping LLM calls corrupt conversation
// context and double-charge").
func (b *Bus) TryAcquireLLM(ctx context.Context, sessionID uuid.UUID) (bool, func()) {
	b.llmMu.Lock()
	if b.llmProcessing {
		b.llmMu.Unlock()
		return false, nil
	}
	b.llmProcessing = true
	b.llmMu.Unlock()

	if b.broadcaster != nil {
		_ = b.broadcaster.PublishLLMProcessing(ctx, sessionID, true)
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		b.llmMu.Lock()
		b.llmProcessing = false
		b.llmMu.Unlock()
		if b.broadcaster != nil {
			_ = b.broadcaster.PublishLLMProcessing(context.Background(), sessionID, false)
		}
	}
	return true, release
}

// LLMProcessing reports the current value of the observable flag surfaced
// to HTTP callers (spec §5).
func (b *Bus) LLMProcessing() bool {
	b.llmMu.Lock()
	defer b.llmMu.Unlock()
	return b.llmProcessing
}

// RedisBroadcaster is the optional Redis-backed StatusBroadcaster (spec
// §11: "distributed-capable backing for the per-state llm_lock /
// llm_processing flag"). Grounded on the teacher's redis_bus.go pub/sub
// forwarder shape, repointed at a single boolean-flag channel instead of
// full SSE message fan-out.
type RedisBroadcaster struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

type llmProcessingEvent struct {
	SessionID  uuid.UUID `json:"session_id"`
	Processing bool      `json:"processing"`
}

// NewRedisBroadcaster connects to addr and publishes on channel. Returns an
// error if the ping fails, matching the teacher's eager-connect style.
func NewRedisBroadcaster(log *logger.Logger, addr, channel string) (*RedisBroadcaster, error) {
	if addr == "" {
		return nil, fmt.Errorf("bus: missing redis addr")
	}
	if channel == "" {
		channel = "llm_processing"
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr, DialTimeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("bus: redis ping: %w", err)
	}
	return &RedisBroadcaster{log: log.With("component", "redis_broadcaster"), rdb: rdb, channel: channel}, nil
}

func (r *RedisBroadcaster) PublishLLMProcessing(ctx context.Context, sessionID uuid.UUID, processing bool) error {
	raw, err := json.Marshal(llmProcessingEvent{SessionID: sessionID, Processing: processing})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, raw).Err()
}

func (r *RedisBroadcaster) Close() error { return r.rdb.Close() }
