// Package orchestrator runs tutoring requests against the upstream capability
// and answers failures with tiered fallback content.
//
// A request ends in exactly one of two states: SUCCEEDED, with the upstream
// reply, or FALLBACK_TIER_n, with fallback content. Failures never escape
// Handle. The orchestrator does not retry; consecutive failures are tracked
// across calls so repeated caller-level retries escalate the tier.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tutorstack/tutorguard/internal/capability"
	"github.com/tutorstack/tutorguard/internal/errclass"
	"github.com/tutorstack/tutorguard/internal/fallback"
	"github.com/tutorstack/tutorguard/internal/featuregate"
	"github.com/tutorstack/tutorguard/internal/health"
	"github.com/tutorstack/tutorguard/internal/observability"
	"github.com/tutorstack/tutorguard/internal/telemetry"
	"github.com/tutorstack/tutorguard/internal/trigger"
)

const tracerName = "github.com/tutorstack/tutorguard/internal/orchestrator"

// Request is one tutoring request.
type Request struct {
	Subject string `json:"subject,omitempty"`
	Topic   string `json:"topic,omitempty"`

	// Query is the student's question. Defaults to the last user message.
	Query string `json:"query,omitempty"`

	// Messages is the conversation. Defaults to a single user message
	// holding Query.
	Messages []capability.Message `json:"messages,omitempty"`

	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`

	// Offline asks for content usable without connectivity on failure.
	Offline bool `json:"offline,omitempty"`

	// Feature is the feature the request belongs to. Default: ai_chat
	Feature string `json:"feature,omitempty"`

	// Timeout bounds the upstream call. For streams it bounds the whole
	// stream. Default: Config.DefaultTimeout
	Timeout time.Duration `json:"-"`

	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

// Response is the outcome of a request.
type Response struct {
	Content    string `json:"content"`
	IsFallback bool   `json:"isFallback"`

	// Partial is set when a stream failed after content was sent.
	Partial bool `json:"partial,omitempty"`

	Tier       fallback.Tier       `json:"tier,omitempty"`
	Type       fallback.ContentType `json:"type,omitempty"`
	Trigger    trigger.Trigger     `json:"trigger,omitempty"`
	Severity   trigger.Severity    `json:"severity,omitempty"`
	ErrorCode  string              `json:"errorCode,omitempty"`
	IncidentID string              `json:"incidentId,omitempty"`
	Model      string              `json:"model,omitempty"`
	Metadata   map[string]string   `json:"metadata,omitempty"`

	// ShowFallbackUI tells the client to render its degraded-mode indicator
	// for the request's feature.
	ShowFallbackUI bool `json:"showFallbackUI"`

	Duration time.Duration `json:"-"`
}

// FeatureGate reports whether a feature should render fallback UI.
type FeatureGate interface {
	ShouldShowFallback(featureID string) bool
}

var _ FeatureGate = (*featuregate.Gate)(nil)

// Config holds the orchestrator's collaborators.
type Config struct {
	// Capability is the upstream. Required.
	Capability capability.Capability

	// Store supplies fallback content. Required.
	Store *fallback.Store

	// Analyzer records incidents. Default: a fresh analyzer.
	Analyzer *trigger.Analyzer

	// Health tracks the upstream's health. Default: a fresh registry.
	Health *health.Registry

	// Monitor aggregates outcomes. Default: a fresh monitor.
	Monitor *observability.Monitor

	// Gate decides ShowFallbackUI. Optional.
	Gate FeatureGate

	// Instruments records OpenTelemetry metrics. Optional.
	Instruments *telemetry.Instruments

	// Tracer defaults to the global tracer provider.
	Tracer trace.Tracer

	// ServiceID is the health registry entry of the upstream.
	// Default: "ai"
	ServiceID string

	// DefaultTimeout bounds requests that carry no timeout.
	// Default: 20 seconds
	DefaultTimeout time.Duration

	Logger zerolog.Logger

	// Now is the clock used to time requests. Default: time.Now
	Now func() time.Time
}

// Orchestrator runs tutoring requests with fallback.
type Orchestrator struct {
	capability capability.Capability
	store      *fallback.Store
	analyzer   *trigger.Analyzer
	health     *health.Registry
	monitor    *observability.Monitor
	gate       FeatureGate

	instruments *telemetry.Instruments
	tracer      trace.Tracer

	config Config
	logger zerolog.Logger
}

// New creates an orchestrator. It panics if Capability or Store is nil.
func New(cfg Config) *Orchestrator {
	if cfg.Capability == nil || cfg.Store == nil {
		panic("orchestrator: Capability and Store are required")
	}
	if cfg.ServiceID == "" {
		cfg.ServiceID = health.ServiceAI
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 20 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = trigger.NewAnalyzer(trigger.AnalyzerConfig{Logger: cfg.Logger})
	}
	if cfg.Health == nil {
		cfg.Health = health.NewRegistry(health.DefaultRegistryConfig(cfg.Logger))
	}
	if cfg.Monitor == nil {
		mc := observability.DefaultMonitorConfig(cfg.Logger)
		mc.Incidents = cfg.Analyzer
		cfg.Monitor = observability.NewMonitor(mc)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	return &Orchestrator{
		capability:  cfg.Capability,
		store:       cfg.Store,
		analyzer:    cfg.Analyzer,
		health:      cfg.Health,
		monitor:     cfg.Monitor,
		gate:        cfg.Gate,
		instruments: cfg.Instruments,
		tracer:      cfg.Tracer,
		config:      cfg,
		logger:      cfg.Logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Handle runs a request to completion. It always returns a usable response.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (resp Response) {
	req = o.normalize(req)

	ctx, span := o.tracer.Start(ctx, "tutorguard.orchestrator.handle",
		trace.WithAttributes(requestAttributes(req)...),
	)
	defer span.End()

	start := o.config.Now()
	defer o.recoverPanic(span, req, start, &resp)

	callCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	result, err := o.capability.Generate(callCtx, req.Messages, o.options(req))
	cancel()
	elapsed := o.config.Now().Sub(start)

	if err != nil {
		resp = o.fail(ctx, req, err, elapsed)
	} else {
		resp = o.succeed(ctx, req, result.Content, elapsed)
		resp.Model = result.Model
		resp.Metadata = result.Metadata
	}

	o.finish(ctx, span, req, &resp)
	return resp
}

// Stream runs a request as a stream, copying the reply to w. If the upstream
// fails before any byte was written, the fallback text is written instead.
// A failure after the first byte is recorded and ends the stream. The
// returned error only reports failures to write to w.
func (o *Orchestrator) Stream(ctx context.Context, req Request, w io.Writer) (resp Response, err error) {
	req = o.normalize(req)

	ctx, span := o.tracer.Start(ctx, "tutorguard.orchestrator.stream",
		trace.WithAttributes(requestAttributes(req)...),
	)
	defer span.End()

	start := o.config.Now()
	written := 0
	defer func() {
		if rec := recover(); rec != nil {
			o.answerPanic(span, req, start, rec, &resp)
			if written == 0 {
				_, err = io.WriteString(w, resp.Content)
			}
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	body, openErr := o.capability.Stream(callCtx, req.Messages, o.options(req))
	if openErr != nil {
		resp = o.fail(ctx, req, openErr, o.config.Now().Sub(start))
		o.finish(ctx, span, req, &resp)
		_, err = io.WriteString(w, resp.Content)
		return resp, err
	}
	defer func() { _ = body.Close() }()

	var reply strings.Builder
	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				span.RecordError(werr)
				return resp, fmt.Errorf("writing stream: %w", werr)
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
			written += n
			reply.Write(buf[:n])
		}

		if readErr == nil {
			continue
		}

		elapsed := o.config.Now().Sub(start)
		if readErr == io.EOF {
			resp = o.succeed(ctx, req, reply.String(), elapsed)
			o.finish(ctx, span, req, &resp)
			return resp, nil
		}

		resp = o.fail(ctx, req, readErr, elapsed)
		if written > 0 {
			resp.Content = reply.String()
			resp.IsFallback = false
			resp.Partial = true
			o.finish(ctx, span, req, &resp)
			return resp, nil
		}
		o.finish(ctx, span, req, &resp)
		_, err = io.WriteString(w, resp.Content)
		return resp, err
	}
}

func (o *Orchestrator) normalize(req Request) Request {
	if req.Timeout <= 0 {
		req.Timeout = o.config.DefaultTimeout
	}
	if req.Feature == "" {
		req.Feature = featuregate.FeatureAIChat
	}
	if req.Query == "" {
		req.Query = capability.LastUserText(req.Messages)
	}
	if len(req.Messages) == 0 && req.Query != "" {
		req.Messages = []capability.Message{capability.UserMessage(req.Query)}
	}
	return req
}

func (o *Orchestrator) options(req Request) capability.Options {
	return capability.Options{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Subject:   req.Subject,
		Topic:     req.Topic,
	}
}

func (o *Orchestrator) succeed(ctx context.Context, req Request, content string, elapsed time.Duration) Response {
	o.monitor.RecordSuccess(elapsed)
	if req.Subject != "" && req.Query != "" {
		o.store.CacheResponse(req.Subject, req.Topic, req.Query, content)
	}
	o.health.ReportSuccess(o.config.ServiceID, elapsed)
	o.analyzer.ResolveSubject(req.Subject, "upstream request succeeded")

	if o.instruments != nil {
		o.instruments.Requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
	}

	return Response{Content: content, Duration: elapsed}
}

func (o *Orchestrator) fail(ctx context.Context, req Request, cause error, elapsed time.Duration) Response {
	prior, _ := o.health.GetHealth(o.config.ServiceID)
	rec := errclass.ClassifyWith(cause, errclass.Options{Recurring: prior.ConsecutiveErrors > 0})
	trig := trigger.Analyze(cause, rec.Code, rec.Category)

	inc := o.analyzer.RecordFallback(trig, rec.Message, trigger.Metadata{
		ErrorCode:     rec.Code,
		ErrorCategory: string(rec.Category),
		Subject:       req.Subject,
		Topic:         req.Topic,
		Query:         req.Query,
		ResponseTime:  elapsed,
	})
	o.health.ReportFailure(o.config.ServiceID, rec.Message)

	tier := fallback.DetermineTier(inc.ConsecutiveCount, elapsed, trig)
	content := o.store.GetFallbackContent(req.Subject, req.Topic, fallback.Options{
		Tier:        tier,
		Trigger:     trig,
		ErrorCode:   rec.Code,
		OfflineMode: req.Offline,
		Query:       req.Query,
	})

	o.monitor.RecordFallback(ctx, observability.Event{Incident: inc, Tier: tier, ContentType: content.Type})

	if o.instruments != nil {
		o.instruments.Requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "fallback")))
		o.instruments.Fallbacks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("trigger", string(trig)),
			attribute.String("tier", string(tier)),
		))
	}

	o.logger.Warn().
		Err(cause).
		Str("category", string(rec.Category)).
		Str("error_code", rec.Code).
		Str("trigger", string(trig)).
		Str("tier", string(tier)).
		Str("subject", req.Subject).
		Str("session_id", req.SessionID).
		Int("consecutive_count", inc.ConsecutiveCount).
		Dur("elapsed", elapsed).
		Msg("serving fallback content")

	return Response{
		Content:    content.Content,
		IsFallback: true,
		Tier:       tier,
		Type:       content.Type,
		Trigger:    trig,
		Severity:   inc.Severity,
		ErrorCode:  rec.Code,
		IncidentID: inc.ID,
		Metadata:   content.Metadata,
		Duration:   elapsed,
	}
}

// finish applies the feature gate and records the request on the span.
func (o *Orchestrator) finish(ctx context.Context, span trace.Span, req Request, resp *Response) {
	if o.gate != nil {
		resp.ShowFallbackUI = o.gate.ShouldShowFallback(req.Feature)
	}
	if o.instruments != nil {
		o.instruments.Duration.Record(ctx, resp.Duration.Seconds())
	}

	span.SetAttributes(
		attribute.Bool("fallback", resp.IsFallback),
		attribute.Bool("partial", resp.Partial),
	)
	if resp.IsFallback || resp.Partial {
		span.SetAttributes(
			attribute.String("fallback.trigger", string(resp.Trigger)),
			attribute.String("fallback.tier", string(resp.Tier)),
		)
		span.SetStatus(codes.Error, string(resp.Trigger))
	}
}

func (o *Orchestrator) recoverPanic(span trace.Span, req Request, start time.Time, resp *Response) {
	if rec := recover(); rec != nil {
		o.answerPanic(span, req, start, rec, resp)
	}
}

// answerPanic replaces resp with the TIER_4 default after a panic.
func (o *Orchestrator) answerPanic(span trace.Span, req Request, start time.Time, rec any, resp *Response) {
	o.logger.Error().
		Str("panic", fmt.Sprint(rec)).
		Str("subject", req.Subject).
		Str("session_id", req.SessionID).
		Msg("request pipeline panicked")

	content := fallback.DefaultContent(fallback.Tier4)
	*resp = Response{
		Content:    content.Content,
		IsFallback: true,
		Tier:       fallback.Tier4,
		Type:       content.Type,
		Trigger:    trigger.Unknown,
		Duration:   o.config.Now().Sub(start),
	}
	span.SetStatus(codes.Error, "panic")
	if o.gate != nil {
		resp.ShowFallbackUI = o.gate.ShouldShowFallback(req.Feature)
	}
}

func requestAttributes(req Request) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tutor.subject", req.Subject),
		attribute.String("tutor.topic", req.Topic),
		attribute.String("tutor.feature", req.Feature),
		attribute.Bool("tutor.offline", req.Offline),
	}
}
