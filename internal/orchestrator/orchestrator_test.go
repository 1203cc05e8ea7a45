package orchestrator_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tutorstack/tutorguard/internal/capability"
	"github.com/tutorstack/tutorguard/internal/fallback"
	"github.com/tutorstack/tutorguard/internal/featuregate"
	"github.com/tutorstack/tutorguard/internal/health"
	"github.com/tutorstack/tutorguard/internal/observability"
	"github.com/tutorstack/tutorguard/internal/orchestrator"
	"github.com/tutorstack/tutorguard/internal/trigger"
)

type fixture struct {
	mock     *capability.Mock
	store    *fallback.Store
	registry *health.Registry
	analyzer *trigger.Analyzer
	monitor  *observability.Monitor
	gate     *featuregate.Gate
	spans    *tracetest.SpanRecorder
	orch     *orchestrator.Orchestrator
}

type fixtureOption func(*orchestrator.Config, *fallback.StoreConfig)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	logger := zerolog.Nop()

	cat, err := fallback.DefaultCatalog()
	require.NoError(t, err)

	storeCfg := fallback.DefaultStoreConfig(logger)
	storeCfg.Chooser = func(int) int { return 0 }

	registry := health.NewRegistry(health.DefaultRegistryConfig(logger))
	t.Cleanup(registry.Stop)

	analyzer := trigger.NewAnalyzer(trigger.AnalyzerConfig{Logger: logger})

	monitorCfg := observability.DefaultMonitorConfig(logger)
	monitorCfg.Incidents = analyzer
	monitor := observability.NewMonitor(monitorCfg)

	gate := featuregate.NewGate(featuregate.GateConfig{Health: registry, Logger: logger})
	t.Cleanup(gate.Close)

	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	mock := capability.NewMock(capability.MockConfig{Logger: logger})

	cfg := orchestrator.Config{
		Capability: mock,
		Analyzer:   analyzer,
		Health:     registry,
		Monitor:    monitor,
		Gate:       gate,
		Tracer:     tp.Tracer("test"),
		Logger:     logger,
	}
	for _, opt := range opts {
		opt(&cfg, &storeCfg)
	}

	store := fallback.NewStoreFromCatalog(storeCfg, cat)
	cfg.Store = store

	return &fixture{
		mock:     mock,
		store:    store,
		registry: registry,
		analyzer: analyzer,
		monitor:  monitor,
		gate:     gate,
		spans:    spans,
		orch:     orchestrator.New(cfg),
	}
}

func algebraRequest() orchestrator.Request {
	return orchestrator.Request{
		Subject:   "math",
		Topic:     "algebra",
		Query:     "How do I solve 2x + 3 = 11?",
		SessionID: "session-1",
	}
}

func TestHandle_Success(t *testing.T) {
	f := newFixture(t)

	resp := f.orch.Handle(context.Background(), algebraRequest())

	assert.False(t, resp.IsFallback)
	assert.Contains(t, resp.Content, "algebra")
	assert.Equal(t, "mock-tutor", resp.Model)
	assert.False(t, resp.ShowFallbackUI)
	assert.Equal(t, health.StatusOperational, f.registry.Status(health.ServiceAI))
	assert.Equal(t, 1, f.store.CacheSize())

	stats := f.monitor.Stats()
	assert.Equal(t, 1, stats.TotalRequests)
	assert.Equal(t, 0, stats.TotalFallbacks)
}

func TestHandle_RepeatedTimeoutsEscalate(t *testing.T) {
	f := newFixture(t)
	f.mock.Script(
		errors.New("Connection timeout"),
		errors.New("Connection timeout"),
		errors.New("Connection timeout"),
	)

	var responses []orchestrator.Response
	for range 3 {
		responses = append(responses, f.orch.Handle(context.Background(), algebraRequest()))
	}

	wantSeverities := []trigger.Severity{trigger.SeverityMinor, trigger.SeverityMinor, trigger.SeverityModerate}
	for i, resp := range responses {
		assert.True(t, resp.IsFallback, "call %d", i+1)
		assert.Equal(t, trigger.Timeout, resp.Trigger, "call %d", i+1)
		assert.Equal(t, wantSeverities[i], resp.Severity, "call %d", i+1)
	}

	third := responses[2]
	assert.Equal(t, fallback.Tier2, third.Tier)
	assert.Contains(t, []fallback.ContentType{fallback.TypeStaticContent, fallback.TypeUserGuidance}, third.Type)
	assert.Contains(t, strings.ToLower(third.Content), "algebra")
	assert.NotEqual(t, fallback.DefaultContent(fallback.Tier1).Content, third.Content)

	inc, ok := f.analyzer.ActiveIncident(trigger.Timeout, "math")
	require.True(t, ok)
	assert.Equal(t, 3, inc.ConsecutiveCount)
	assert.Equal(t, inc.ID, third.IncidentID)

	assert.Equal(t, health.StatusOutage, f.registry.Status(health.ServiceAI))
	assert.False(t, responses[0].ShowFallbackUI)
	assert.True(t, third.ShowFallbackUI, "ai_chat is disabled once the upstream is in outage")
}

func TestHandle_SuccessResolvesIncidentsAndCaches(t *testing.T) {
	f := newFixture(t)
	f.mock.Script(errors.New("Connection timeout"))

	first := f.orch.Handle(context.Background(), algebraRequest())
	require.True(t, first.IsFallback)

	second := f.orch.Handle(context.Background(), algebraRequest())
	require.False(t, second.IsFallback)

	_, ok := f.analyzer.ActiveIncident(trigger.Timeout, "math")
	assert.False(t, ok)
	assert.Equal(t, health.StatusOperational, f.registry.Status(health.ServiceAI))

	// A new failure starts at TIER_1 and reuses the cached reply.
	f.mock.Script(errors.New("Connection timeout"))
	third := f.orch.Handle(context.Background(), algebraRequest())
	assert.Equal(t, fallback.Tier1, third.Tier)
	assert.Equal(t, fallback.TypeCachedResponse, third.Type)
	assert.Equal(t, second.Content, third.Content)
}

func TestHandle_UpstreamTimeout(t *testing.T) {
	f := newFixture(t, func(cfg *orchestrator.Config, _ *fallback.StoreConfig) {
		cfg.Capability = capability.NewMock(capability.MockConfig{Latency: time.Second, Logger: zerolog.Nop()})
	})

	req := algebraRequest()
	req.Timeout = 10 * time.Millisecond

	resp := f.orch.Handle(context.Background(), req)
	assert.True(t, resp.IsFallback)
	assert.Equal(t, trigger.Timeout, resp.Trigger)
	assert.Less(t, resp.Duration, time.Second)
}

func TestHandle_FallbackRouting(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		offline     bool
		wantTrigger trigger.Trigger
		wantTier    fallback.Tier
		wantType    fallback.ContentType
		wantText    string
	}{
		{
			name:        "service unavailable uses error code content",
			err:         errors.New("503 service unavailable"),
			wantTrigger: trigger.APIUnavailable,
			wantTier:    fallback.Tier3,
			wantType:    fallback.TypeSystemMessage,
			wantText:    "AI provider is unavailable",
		},
		{
			name:        "rate limit uses trigger content",
			err:         errors.New("429 too many requests"),
			wantTrigger: trigger.RateLimited,
			wantTier:    fallback.Tier1,
			wantType:    fallback.TypeUserGuidance,
			wantText:    "Lots of students",
		},
		{
			name:        "rate limit naming the api key",
			err:         errors.New("Rate limit exceeded for this API key"),
			wantTrigger: trigger.RateLimited,
			wantTier:    fallback.Tier1,
			wantType:    fallback.TypeUserGuidance,
			wantText:    "Lots of students",
		},
		{
			name:        "rate limit naming connections",
			err:         errors.New("Rate limit reached: too many connections"),
			wantTrigger: trigger.RateLimited,
			wantTier:    fallback.Tier1,
			wantType:    fallback.TypeUserGuidance,
			wantText:    "Lots of students",
		},
		{
			name:        "offline request gets offline pack",
			err:         errors.New("Connection timeout"),
			offline:     true,
			wantTrigger: trigger.Timeout,
			wantTier:    fallback.Tier1,
			wantType:    fallback.TypeOfflineContent,
			wantText:    "Offline algebra pack",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.mock.Script(tt.err)

			req := algebraRequest()
			req.Offline = tt.offline
			resp := f.orch.Handle(context.Background(), req)

			assert.True(t, resp.IsFallback)
			assert.Equal(t, tt.wantTrigger, resp.Trigger)
			assert.Equal(t, tt.wantTier, resp.Tier)
			assert.Equal(t, tt.wantType, resp.Type)
			assert.Contains(t, resp.Content, tt.wantText)
		})
	}
}

func TestHandle_DatabaseOutageGatesFeature(t *testing.T) {
	f := newFixture(t)

	for range 20 {
		f.registry.ReportFailure(health.ServiceDatabase, "connection refused")
	}
	require.Equal(t, health.StatusOutage, f.registry.Status(health.ServiceDatabase))

	assert.False(t, f.gate.IsEnabled(featuregate.FeatureCourseCatalog))
	assert.False(t, f.gate.IsEnabled(featuregate.FeatureProgressTracking))
	assert.True(t, f.gate.IsEnabled(featuregate.FeatureAIChat), "database is not critical for chat")

	req := algebraRequest()
	req.Feature = featuregate.FeatureCourseCatalog
	resp := f.orch.Handle(context.Background(), req)
	assert.False(t, resp.IsFallback)
	assert.True(t, resp.ShowFallbackUI)

	chat := f.orch.Handle(context.Background(), algebraRequest())
	assert.False(t, chat.ShowFallbackUI)
}

func TestHandle_PanicInFallbackPipeline(t *testing.T) {
	f := newFixture(t, func(_ *orchestrator.Config, sc *fallback.StoreConfig) {
		sc.Chooser = func(int) int { panic("chooser exploded") }
	})
	f.mock.Script(errors.New("Connection timeout"))

	resp := f.orch.Handle(context.Background(), algebraRequest())

	assert.True(t, resp.IsFallback)
	assert.Equal(t, fallback.Tier4, resp.Tier)
	assert.Equal(t, fallback.DefaultContent(fallback.Tier4).Content, resp.Content)
}

func TestHandle_RecordsSpan(t *testing.T) {
	f := newFixture(t)
	f.mock.Script(errors.New("Connection timeout"))

	f.orch.Handle(context.Background(), algebraRequest())

	ended := f.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "tutorguard.orchestrator.handle", ended[0].Name())

	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "math", attrs["tutor.subject"])
	assert.Equal(t, "true", attrs["fallback"])
	assert.Equal(t, "timeout", attrs["fallback.trigger"])
}

func TestHandle_DerivesQueryFromMessages(t *testing.T) {
	f := newFixture(t)

	resp := f.orch.Handle(context.Background(), orchestrator.Request{
		Subject: "science",
		Messages: []capability.Message{
			capability.SystemMessage("You are a tutor."),
			capability.UserMessage("Why is the sky blue?"),
		},
	})

	assert.False(t, resp.IsFallback)
	assert.Contains(t, resp.Content, "Why is the sky blue?")
	_, ok := f.store.GetCachedResponse("science", "", "Why is the sky blue?")
	assert.True(t, ok)
}

func TestStream_Success(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer

	resp, err := f.orch.Stream(context.Background(), algebraRequest(), &buf)
	require.NoError(t, err)

	assert.False(t, resp.IsFallback)
	assert.Equal(t, buf.String(), resp.Content)
	assert.Contains(t, buf.String(), "algebra")
}

func TestStream_FailureBeforeFirstByte(t *testing.T) {
	f := newFixture(t)
	f.mock.Script(errors.New("503 service unavailable"))
	var buf bytes.Buffer

	resp, err := f.orch.Stream(context.Background(), algebraRequest(), &buf)
	require.NoError(t, err)

	assert.True(t, resp.IsFallback)
	assert.Equal(t, fallback.Tier3, resp.Tier)
	assert.Equal(t, resp.Content, buf.String())
}

type errAfter struct {
	err error
}

func (e errAfter) Read([]byte) (int, error) { return 0, e.err }

// brokenStream streams a prefix and then fails.
type brokenStream struct {
	prefix string
	err    error
}

func (b brokenStream) Name() string { return "broken" }

func (b brokenStream) Generate(context.Context, []capability.Message, capability.Options) (capability.Result, error) {
	return capability.Result{}, b.err
}

func (b brokenStream) Stream(context.Context, []capability.Message, capability.Options) (io.ReadCloser, error) {
	return io.NopCloser(io.MultiReader(strings.NewReader(b.prefix), errAfter{b.err})), nil
}

func TestStream_FailureAfterFirstByte(t *testing.T) {
	f := newFixture(t, func(cfg *orchestrator.Config, _ *fallback.StoreConfig) {
		cfg.Capability = brokenStream{prefix: "Let's start with", err: errors.New("connection reset by peer")}
	})
	var buf bytes.Buffer

	resp, err := f.orch.Stream(context.Background(), algebraRequest(), &buf)
	require.NoError(t, err)

	assert.Equal(t, "Let's start with", buf.String())
	assert.True(t, resp.Partial)
	assert.False(t, resp.IsFallback)
	assert.Equal(t, trigger.NetworkError, resp.Trigger)

	_, ok := f.analyzer.ActiveIncident(trigger.NetworkError, "math")
	assert.True(t, ok)
	assert.Equal(t, 1, f.monitor.Stats().TotalFallbacks)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("client went away") }

func TestStream_WriteError(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.Stream(context.Background(), algebraRequest(), failingWriter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client went away")
}
