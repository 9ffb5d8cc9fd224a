package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"llm-relay/pkg/utils"
)

// Configuration errors. These fail fast: no attempt is made and nothing is
// retried.
var (
	ErrNoEndpoint = errors.New("no endpoint URL configured")
	ErrNoModel    = errors.New("no model name configured")
	ErrNoAPIKeys  = errors.New("no API keys configured")

	// ErrAllKeysFailed is returned (wrapped with the attempt count and the
	// last per-key error) when the failover loop exhausts every attempt.
	ErrAllKeysFailed = errors.New("all API keys failed")
)

// OutcomeKind discriminates the three possible results of an invocation.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeSuspended
	OutcomeFailure
)

// String returns the lower-case name of the outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeSuspended:
		return "suspended"
	case OutcomeFailure:
		return "failure"
	}
	return "unknown"
}

// Outcome is the tagged result of one Invoke call. Exactly one kind is set;
// Text is meaningful only for OutcomeSuccess and Err only for
// OutcomeFailure. A completion whose text happens to read "suspended" is
// still OutcomeSuccess — callers must branch on Kind, never on Text.
type Outcome struct {
	Kind OutcomeKind
	Text string
	Err  error
}

// AttemptResult records the fate of a single credential, one per key tried.
type AttemptResult struct {
	KeyIndex int    `json:"key_index"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// InvokeRequest carries the prompts and delivery options for one invocation.
type InvokeRequest struct {
	// System overrides the invoker's configured system prompt when set.
	System string
	// Messages is optional pre-assembled conversation context, sent before
	// the user prompt.
	Messages []Message
	// User is the user prompt.
	User string
	// Silent suppresses the cancellation prompt.
	Silent bool
	// Stream requests incremental delivery through OnChunk.
	Stream  bool
	OnChunk func(string)
}

// Invoker orchestrates sequential completion attempts across API keys in
// round-robin order, stopping on first success, on user abort, or after
// exhausting the attempt budget.
//
// The rotation cursor lives on the Invoker rather than in package state so
// a process keeps one long-lived instance (spreading load across keys over
// its lifetime) while tests construct their own and position the cursor
// deterministically.
type Invoker struct {
	EndpointURL  string
	Model        string
	SystemPrompt string
	Temperature  float64
	Keys         []string

	// MaxAttempts caps the failover loop. Zero means one attempt per
	// configured key.
	MaxAttempts int

	// NewClient builds the per-credential client. Nil selects the
	// OpenAI-compatible HTTP client.
	NewClient ClientFactory

	// Prompt, when set, is raced against the attempt loop; see Gate.
	Prompt Prompter

	// Notify observes attempt progress (1-based attempt number, total
	// budget, key index). Observational only: it must not affect control
	// flow and is never called concurrently.
	Notify func(attempt, total, keyIndex int)

	logger *zap.Logger
	gate   Gate

	mu     sync.Mutex
	cursor int
}

// NewInvoker builds an Invoker from configuration. A nil logger disables
// logging.
func NewInvoker(cfg *Config, logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	keys, report := ParseKeys(cfg.APIKeys)
	if report.InvalidKeys > 0 || report.DuplicatesRemoved > 0 {
		logger.Info("credential list normalized", zap.String("summary", report.Message))
	}
	return &Invoker{
		EndpointURL:  cfg.EndpointURL,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  cfg.Temperature,
		Keys:         keys,
		MaxAttempts:  cfg.MaxAttempts,
		logger:       logger,
	}
}

// SetCursor positions the rotation cursor. Intended for tests and for
// restoring a cursor the host chose to carry over.
func (inv *Invoker) SetCursor(n int) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.cursor = n
}

// Cursor returns the current rotation cursor value.
func (inv *Invoker) Cursor() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.cursor
}

// log returns the configured logger, or a nop logger for zero-value
// Invokers assembled field-by-field.
func (inv *Invoker) log() *zap.Logger {
	if inv.logger == nil {
		return zap.NewNop()
	}
	return inv.logger
}

// nextKeyIndex picks the next credential and advances the cursor. The
// cursor moves on every attempt, successful or not.
func (inv *Invoker) nextKeyIndex(total int) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	idx := inv.cursor % total
	inv.cursor++
	return idx
}

// Invoke runs the failover loop and returns exactly one tagged outcome.
//
// The cancellation gate is opened without being awaited; its answer is
// sampled before each attempt, so an attempt already in flight always runs
// to completion or natural failure.
func (inv *Invoker) Invoke(ctx context.Context, req InvokeRequest) Outcome {
	if out, ok := inv.checkConfig(); !ok {
		return out
	}

	attempts := inv.MaxAttempts
	if attempts <= 0 {
		attempts = len(inv.Keys)
	}

	session := inv.gate.Open(ctx, inv.Prompt, req.Silent)
	defer session.Close()

	messages := inv.buildMessages(req)

	var onChunk func(string)
	if req.Stream && req.OnChunk != nil {
		onChunk = req.OnChunk
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil || session.Suspended() {
			inv.log().Info("invocation suspended",
				zap.Int("attempts_made", attempt-1))
			metricInvocations.WithLabelValues(OutcomeSuspended.String()).Inc()
			return Outcome{Kind: OutcomeSuspended}
		}

		keyIndex := inv.nextKeyIndex(len(inv.Keys))
		key := inv.Keys[keyIndex]

		if inv.Notify != nil {
			inv.Notify(attempt, attempts, keyIndex)
		}

		client := inv.newClient(key)
		text, err := client.Call(ctx, messages, onChunk)
		if err == nil {
			inv.log().Debug("completion succeeded",
				zap.Int("attempt", attempt),
				zap.Int("key_index", keyIndex))
			metricAttempts.WithLabelValues("success").Inc()
			metricInvocations.WithLabelValues(OutcomeSuccess.String()).Inc()
			return Outcome{Kind: OutcomeSuccess, Text: text}
		}

		lastErr = err
		metricAttempts.WithLabelValues("failure").Inc()
		inv.log().Warn("key failed, trying next",
			zap.String("key", utils.MaskToken(key)),
			zap.Int("attempt", attempt),
			zap.Int("key_index", keyIndex),
			zap.Error(err))
	}

	metricInvocations.WithLabelValues(OutcomeFailure.String()).Inc()
	return Outcome{
		Kind: OutcomeFailure,
		Err: fmt.Errorf("%w: %d attempt(s) made, last error: %s",
			ErrAllKeysFailed, attempts, errorText(lastErr)),
	}
}

// checkConfig enforces the fail-fast preconditions. The second return is
// false when the invocation must not proceed.
func (inv *Invoker) checkConfig() (Outcome, bool) {
	var err error
	switch {
	case inv.EndpointURL == "":
		err = ErrNoEndpoint
	case inv.Model == "":
		err = ErrNoModel
	case len(inv.Keys) == 0:
		err = ErrNoAPIKeys
	default:
		return Outcome{}, true
	}
	inv.log().Error("invocation rejected", zap.Error(err))
	metricInvocations.WithLabelValues(OutcomeFailure.String()).Inc()
	return Outcome{Kind: OutcomeFailure, Err: err}, false
}

func (inv *Invoker) buildMessages(req InvokeRequest) []Message {
	messages := make([]Message, 0, len(req.Messages)+2)
	if req.System != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: req.System})
	}
	messages = append(messages, req.Messages...)
	if req.User != "" {
		messages = append(messages, Message{Role: RoleUser, Content: req.User})
	}
	return messages
}

func (inv *Invoker) newClient(key string) ModelClient {
	cfg := ClientConfig{
		EndpointURL:  inv.EndpointURL,
		APIKey:       key,
		Model:        inv.Model,
		SystemPrompt: inv.SystemPrompt,
		Temperature:  inv.Temperature,
	}
	if inv.NewClient != nil {
		return inv.NewClient(cfg)
	}
	return NewOpenAIClient(cfg, inv.log())
}

// errorText normalizes an error for user-facing reporting.
func errorText(err error) string {
	if err == nil {
		return "Unknown error"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Unknown error"
}
