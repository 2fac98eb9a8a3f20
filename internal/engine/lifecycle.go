// Package engine owns the native extraction/transcoding engine: its startup
// state machine, the readiness gate, and process invocation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrNotReady     = errors.New("engine not ready")
	ErrInitFailed   = errors.New("engine initialization failed")
	ErrNoUpdater    = errors.New("engine has no updater configured")
	ErrEngineFailed = errors.New("engine invocation failed")
)

// State is the engine readiness state
type State int32

const (
	StateNotStarted State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Gate is the read-only view of the lifecycle handed to dependent components
type Gate interface {
	AwaitReady(ctx context.Context, timeout time.Duration) bool
	CurrentState() State
}

// Step is one startup phase of a native subsystem
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// UpdateFunc refreshes the engine binaries and reports a status string
type UpdateFunc func(ctx context.Context) (string, error)

// Lifecycle runs engine startup in the background and exposes readiness.
// Only the lifecycle writes state; everyone else reads it through Gate.
type Lifecycle struct {
	state        atomic.Int32
	steps        []Step
	updater      UpdateFunc
	autoUpdate   bool
	pollInterval time.Duration
	start        sync.Once
	mu           sync.Mutex
	done         chan struct{}
	logger       *slog.Logger
}

// LifecycleOption configures a Lifecycle
type LifecycleOption func(*Lifecycle)

// WithUpdater sets the best-effort binary update run after startup and by Update
func WithUpdater(fn UpdateFunc) LifecycleOption {
	return func(l *Lifecycle) { l.updater = fn }
}

// WithAutoUpdate controls whether the updater runs once the engine is
// ready. Update still works either way.
func WithAutoUpdate(enabled bool) LifecycleOption {
	return func(l *Lifecycle) { l.autoUpdate = enabled }
}

// WithPollInterval sets how often AwaitReady samples the state
func WithPollInterval(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithLifecycleLogger sets the logger
func WithLifecycleLogger(logger *slog.Logger) LifecycleOption {
	return func(l *Lifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLifecycle creates a lifecycle that runs steps in order
func NewLifecycle(steps []Step, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		steps:        steps,
		autoUpdate:   true,
		pollInterval: 500 * time.Millisecond,
		done:         make(chan struct{}),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// StartInitialization launches the startup sequence on a background goroutine.
// Only the first call has any effect.
func (l *Lifecycle) StartInitialization(ctx context.Context) {
	l.start.Do(func() {
		l.setState(StateInitializing)
		go func() {
			defer close(l.done)
			if l.initialize(ctx) {
				l.runUpdate(ctx)
			}
		}()
	})
}

// Done is closed when the background startup sequence, including the
// post-ready update attempt, has finished
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// CurrentState returns the current engine state
func (l *Lifecycle) CurrentState() State {
	return State(l.state.Load())
}

// AwaitReady polls the state until it is Ready or timeout elapses
func (l *Lifecycle) AwaitReady(ctx context.Context, timeout time.Duration) bool {
	if l.CurrentState() == StateReady {
		return true
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return l.CurrentState() == StateReady
		case <-ticker.C:
			if l.CurrentState() == StateReady {
				return true
			}
		}
	}
}

// Update runs the binary updater synchronously. A failed engine is
// re-initialized after a successful update; a ready engine stays ready
// whatever the outcome.
func (l *Lifecycle) Update(ctx context.Context) (string, error) {
	if l.updater == nil {
		return "", ErrNoUpdater
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	status, err := l.safeUpdate(ctx)
	if err != nil {
		l.logger.Warn("engine update failed", "error", err, "state", l.CurrentState())
		return "", err
	}
	l.logger.Info("engine update finished", "status", status)

	recoverable := l.state.CompareAndSwap(int32(StateFailed), int32(StateInitializing))
	if !recoverable && l.state.CompareAndSwap(int32(StateNotStarted), int32(StateInitializing)) {
		// Claim the start slot so a late StartInitialization does not rerun the steps.
		l.start.Do(func() { close(l.done) })
		recoverable = true
	}
	if recoverable {
		l.logger.Info("re-initializing engine after update")
		l.initialize(ctx)
	}

	return status, nil
}

// initialize runs the steps and records the outcome. The caller must
// already have moved the state to Initializing.
func (l *Lifecycle) initialize(ctx context.Context) bool {
	if err := l.runSteps(ctx); err != nil {
		l.logger.Error("engine initialization failed", "error", err)
		l.setState(StateFailed)
		return false
	}

	l.setState(StateReady)
	l.logger.Info("engine ready")
	return true
}

func (l *Lifecycle) runSteps(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrInitFailed, r)
		}
	}()

	for _, step := range l.steps {
		started := time.Now()
		if err := step.Run(ctx); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInitFailed, step.Name, err)
		}
		l.logger.Info("engine step initialized", "step", step.Name, "duration", time.Since(started))
	}
	return nil
}

// runUpdate is the best-effort update after startup; it never touches state
func (l *Lifecycle) runUpdate(ctx context.Context) {
	if l.updater == nil || !l.autoUpdate {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	status, err := l.safeUpdate(ctx)
	if err != nil {
		l.logger.Warn("engine update failed (non-critical)", "error", err)
		return
	}
	l.logger.Info("engine update check complete", "status", status)
}

func (l *Lifecycle) safeUpdate(ctx context.Context) (status string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("update panic: %v", r)
		}
	}()
	return l.updater(ctx)
}

func (l *Lifecycle) setState(s State) {
	prev := State(l.state.Swap(int32(s)))
	if prev != s {
		l.logger.Debug("engine state changed", "from", prev, "to", s)
	}
}
