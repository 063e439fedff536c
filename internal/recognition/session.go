package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/docscan/internal/bitmap"
)

var (
	// ErrEngineUnavailable means the engine failed to initialize. It is fatal
	// for the session and is not retried.
	ErrEngineUnavailable = errors.New("OCR engine unavailable")
	// ErrRecognitionFailed means the engine failed on one image. The session
	// stays usable; the caller may retry, for example with a different crop.
	ErrRecognitionFailed = errors.New("recognition failed")
	// ErrClosed is returned after Destroy.
	ErrClosed = errors.New("recognition session closed")
)

// Result is the output of one recognition run.
type Result struct {
	Text string `json:"text"`
	// Confidence is the engine's mean confidence in [0, 1]; 0 when the engine
	// does not report one.
	Confidence float64 `json:"confidence"`
}

// Engine is an external text recognizer.
type Engine interface {
	// Name identifies the engine in logs and status output
	Name() string
	// Initialize loads the model for script and configures the engine
	Initialize(ctx context.Context, script string) error
	// Recognize runs the engine over b
	Recognize(ctx context.Context, b *bitmap.Bitmap) (Result, error)
	// Close releases engine resources
	Close() error
}

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a snapshot of a Session for reporting.
type Status struct {
	Engine string `json:"engine"`
	Script string `json:"script"`
	State  string `json:"state"`
	Ready  bool   `json:"ready"`
	Error  string `json:"error,omitempty"`
}

// Session owns one Engine for its whole lifetime. Initialize, Recognize and
// Destroy are serialized, so recognitions issued while the engine is still
// initializing wait for it instead of racing it.
type Session struct {
	engine Engine
	script string
	logger *slog.Logger

	// sem is a one-slot lock that can be abandoned on context cancellation
	sem chan struct{}

	mu      sync.Mutex
	state   State
	initErr error
	ready   chan struct{}
	failed  chan struct{}
	closed  chan struct{}
}

// NewSession wraps engine. Nothing is loaded until Initialize or the first
// Recognize.
func NewSession(engine Engine, script string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		engine: engine,
		script: script,
		logger: logger,
		sem:    make(chan struct{}, 1),
		ready:  make(chan struct{}),
		failed: make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) release() { <-s.sem }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready returns a channel that is closed once the engine is initialized.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// IsReady reports whether the engine is initialized.
func (s *Session) IsReady() bool { return s.State() == StateReady }

// Status returns a snapshot for reporting.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Engine: s.engine.Name(),
		Script: s.script,
		State:  s.state.String(),
		Ready:  s.state == StateReady,
	}
	if s.initErr != nil {
		st.Error = s.initErr.Error()
	}
	return st
}

// WaitReady blocks until the engine is ready, has failed, the session is
// destroyed or ctx is done.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.failed:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.initErr
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start initializes the engine in the background.
func (s *Session) Start(ctx context.Context) {
	go func() {
		if err := s.Initialize(ctx); err != nil {
			s.logger.Error("Background engine initialization failed", "engine", s.engine.Name(), "error", err)
		}
	}()
}

// Initialize loads and configures the engine. It is a no-op once the engine
// is ready. A failure is recorded and returned to every later caller. If ctx
// is cancelled mid-initialization the engine is released and the session
// returns to idle so a later call can try again.
func (s *Session) Initialize(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return s.initialize(ctx)
}

// initialize must be called while holding sem.
func (s *Session) initialize(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateReady:
		s.mu.Unlock()
		return nil
	case StateFailed:
		err := s.initErr
		s.mu.Unlock()
		return err
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	}
	s.state = StateInitializing
	s.mu.Unlock()

	name := s.engine.Name()
	s.logger.Info("Initializing OCR engine", "engine", name, "script", s.script)
	start := time.Now()

	err := s.engine.Initialize(ctx, s.script)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if cerr := s.engine.Close(); cerr != nil {
			s.logger.Warn("Failed to release engine after initialization error", "engine", name, "error", cerr)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.state = StateIdle
			s.logger.Warn("OCR engine initialization cancelled", "engine", name, "error", ctxErr)
			return fmt.Errorf("initializing %s engine: %w", name, ctxErr)
		}
		s.state = StateFailed
		s.initErr = fmt.Errorf("%w: %s: %w", ErrEngineUnavailable, name, err)
		close(s.failed)
		s.logger.Error("OCR engine initialization failed", "engine", name, "error", err)
		return s.initErr
	}

	s.mu.Lock()
	s.state = StateReady
	close(s.ready)
	s.mu.Unlock()
	s.logger.Info("OCR engine ready", "engine", name, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Recognize runs the engine over b, initializing it first if needed, and
// applies the glyph-correction pass to the text.
func (s *Session) Recognize(ctx context.Context, b *bitmap.Bitmap) (Result, error) {
	if b.Empty() {
		return Result{}, fmt.Errorf("%w: %w", ErrRecognitionFailed, bitmap.ErrEmpty)
	}
	if err := s.acquire(ctx); err != nil {
		return Result{}, err
	}
	defer s.release()

	if err := s.initialize(ctx); err != nil {
		return Result{}, err
	}

	start := time.Now()
	res, err := s.engine.Recognize(ctx, b)
	if err != nil {
		s.logger.Error("Recognition failed", "engine", s.engine.Name(), "width", b.Width(), "height", b.Height(), "error", err)
		return Result{}, fmt.Errorf("%w: %w", ErrRecognitionFailed, err)
	}
	res.Text = Correct(res.Text)
	s.logger.Debug("Recognition done",
		"engine", s.engine.Name(),
		"chars", len([]rune(res.Text)),
		"confidence", res.Confidence,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Destroy releases the engine. It is safe to call on a session that was
// never initialized, and more than once.
func (s *Session) Destroy() error {
	if err := s.acquire(context.Background()); err != nil {
		return err
	}
	defer s.release()

	s.mu.Lock()
	prev := s.state
	if prev == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	close(s.closed)
	s.mu.Unlock()

	if prev != StateReady {
		return nil
	}
	if err := s.engine.Close(); err != nil {
		return fmt.Errorf("closing %s engine: %w", s.engine.Name(), err)
	}
	s.logger.Info("OCR engine released", "engine", s.engine.Name())
	return nil
}
