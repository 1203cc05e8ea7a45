package capability

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MockConfig holds configuration for the mock capability.
type MockConfig struct {
	// Latency delays every call. The delay honours context cancellation.
	Latency time.Duration

	// Failures are returned by successive calls before replies resume.
	Failures []error

	Logger zerolog.Logger
}

// Mock is a deterministic tutoring capability used in previews and tests.
type Mock struct {
	mu       sync.Mutex
	failures []error
	sticky   error
	calls    int

	config MockConfig
	logger zerolog.Logger
}

// NewMock creates a mock capability.
func NewMock(cfg MockConfig) *Mock {
	return &Mock{
		failures: append([]error(nil), cfg.Failures...),
		config:   cfg,
		logger:   cfg.Logger.With().Str("component", "mock_capability").Logger(),
	}
}

// Name implements Capability.
func (m *Mock) Name() string { return string(KindMock) }

// Script queues errors returned by the next calls, in order.
func (m *Mock) Script(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// FailWith makes every call fail with err until it is called with nil.
func (m *Mock) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sticky = err
}

// Calls returns the number of Generate and Stream calls.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Mock) next(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	var err error
	switch {
	case m.sticky != nil:
		err = m.sticky
	case len(m.failures) > 0:
		err = m.failures[0]
		m.failures = m.failures[1:]
	}
	m.mu.Unlock()

	if m.config.Latency > 0 {
		t := time.NewTimer(m.config.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

// Generate implements Capability.
func (m *Mock) Generate(ctx context.Context, messages []Message, opts Options) (Result, error) {
	if err := m.next(ctx); err != nil {
		m.logger.Debug().Err(err).Msg("scripted failure")
		return Result{}, err
	}

	reply := mockReply(LastUserText(messages), opts)
	return Result{
		Content:          reply,
		Model:            "mock-tutor",
		FinishReason:     "stop",
		CompletionTokens: len(strings.Fields(reply)),
		Metadata:         map[string]string{"provider": string(KindMock)},
	}, nil
}

// Stream implements Capability.
func (m *Mock) Stream(ctx context.Context, messages []Message, opts Options) (io.ReadCloser, error) {
	if err := m.next(ctx); err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(mockReply(LastUserText(messages), opts))), nil
}

func mockReply(question string, opts Options) string {
	var b strings.Builder
	switch {
	case opts.Subject != "" && opts.Topic != "":
		fmt.Fprintf(&b, "Let's work through this %s question on %s together.", opts.Subject, opts.Topic)
	case opts.Subject != "":
		fmt.Fprintf(&b, "Let's work through this %s question together.", opts.Subject)
	default:
		b.WriteString("Let's work through this together.")
	}
	if q := strings.TrimSpace(question); q != "" {
		fmt.Fprintf(&b, " You asked: %q.", q)
	}
	b.WriteString(" Start by writing down what you already know, then identify what the question is asking for.")
	return b.String()
}
