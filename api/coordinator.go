package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"slotbook/models"

	"go.uber.org/zap"
)

// Reporter receives classified failures for user-facing presentation. The
// coordinator reports each terminal failure exactly once; background calls
// opt out via CallOptions.Silent.
type Reporter interface {
	Report(c Classified)
}

// rpcDoer abstracts the webhook client for testing.
type rpcDoer interface {
	Do(ctx context.Context, action string, fields map[string]any) (models.Envelope, int, error)
}

// CallOptions tune one coordinated call.
type CallOptions struct {
	// Context is the logical channel name scoping single-flight
	// cancellation. Defaults to the action name.
	Context string
	// Timeout bounds the call; zero means the coordinator default.
	Timeout time.Duration
	// Retryable marks an idempotent read eligible for one automatic retry.
	// Mutating calls must leave this false.
	Retryable bool
	// Silent suppresses user-facing error reporting.
	Silent bool
}

// Error is a classified terminal call failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type flight struct {
	cancel context.CancelFunc
}

// Coordinator wraps the webhook client with the request lifecycle rules:
// at most one in-flight call per logical context (a newer call cancels the
// older one), a per-call timeout, and a single automatic retry for
// idempotent reads. Calls under different contexts never interfere.
type Coordinator struct {
	client   rpcDoer
	reporter Reporter
	logger   *zap.Logger
	timeout  time.Duration
	backoff  time.Duration

	mu       sync.Mutex
	inflight map[string]*flight
}

func NewCoordinator(client rpcDoer, reporter Reporter, timeout, backoff time.Duration, logger *zap.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if backoff <= 0 {
		backoff = 1500 * time.Millisecond
	}
	return &Coordinator{
		client:   client,
		reporter: reporter,
		logger:   logger,
		timeout:  timeout,
		backoff:  backoff,
		inflight: make(map[string]*flight),
	}
}

// Call issues action under the single-flight and retry rules. It returns
// ErrSuperseded when a newer call under the same context replaced this one;
// callers must treat that as a silent no-op, never as a user-visible failure.
func (co *Coordinator) Call(ctx context.Context, action string, fields map[string]any, opts CallOptions) (models.Envelope, error) {
	name := opts.Context
	if name == "" {
		name = action
	}

	callCtx, cancel := context.WithCancel(ctx)
	f := &flight{cancel: cancel}

	co.mu.Lock()
	if prev := co.inflight[name]; prev != nil {
		// Single flight: the older call's result is discarded.
		prev.cancel()
	}
	co.inflight[name] = f
	co.mu.Unlock()

	defer func() {
		co.mu.Lock()
		if co.inflight[name] == f {
			delete(co.inflight, name)
		}
		co.mu.Unlock()
		cancel()
	}()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = co.timeout
	}

	attempt := func() (models.Envelope, int, error) {
		actx, acancel := context.WithTimeout(callCtx, timeout)
		defer acancel()
		return co.client.Do(actx, action, fields)
	}

	env, status, err := attempt()
	if err != nil && opts.Retryable && co.shouldRetry(callCtx, err, status) {
		co.logger.Debug("retrying read after transient failure",
			zap.String("action", action), zap.Error(err))
		select {
		case <-time.After(co.backoff):
		case <-callCtx.Done():
			return models.Envelope{}, ErrSuperseded
		}
		env, status, err = attempt()
	}

	if err != nil {
		if callCtx.Err() == context.Canceled {
			// Cancelled by a newer call or by the caller going away.
			return models.Envelope{}, ErrSuperseded
		}
		cls := Classify(err, status)
		if cls.Silent() {
			return models.Envelope{}, ErrSuperseded
		}
		co.logger.Warn("rpc call failed",
			zap.String("action", action),
			zap.String("kind", string(cls.Kind)),
			zap.Int("status", status),
			zap.Error(err))
		if !opts.Silent && co.reporter != nil {
			co.reporter.Report(cls)
		}
		return models.Envelope{}, &Error{Kind: cls.Kind, Message: cls.Message, Err: err}
	}
	return env, nil
}

// shouldRetry permits the one automatic retry only for transient transport
// failures, never for deliberate aborts or 4xx responses.
func (co *Coordinator) shouldRetry(callCtx context.Context, err error, status int) bool {
	if callCtx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrSuperseded) {
		return false
	}
	switch Classify(err, status).Kind {
	case KindTimeout, KindServerError, KindNetworkError, KindUnknown:
		return true
	default:
		return false
	}
}

// CancelContext aborts any in-flight call under the given context name, for
// example when the user navigates away from the screen that started it.
func (co *Coordinator) CancelContext(name string) {
	co.mu.Lock()
	defer co.mu.Unlock()
	if f := co.inflight[name]; f != nil {
		f.cancel()
		delete(co.inflight, name)
	}
}
