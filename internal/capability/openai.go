package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/tutorstack/tutorguard/internal/provider/resilience"
)

// Defaults used when the configuration leaves them empty.
const (
	DefaultModel   = openai.GPT4oMini
	DefaultBaseURL = "https://api.openai.com/v1"
)

// OpenAIConfig holds configuration for the OpenAI-compatible capability.
type OpenAIConfig struct {
	APIKey string

	// Model defaults to DefaultModel.
	Model string

	// BaseURL overrides the API endpoint, e.g. for compatible gateways.
	BaseURL string

	// HTTPClient performs the HTTP calls. Default: http.DefaultClient
	HTTPClient openai.HTTPDoer

	// MaxTokens caps completion length when Options does not.
	MaxTokens int

	Logger zerolog.Logger
}

// OpenAI generates replies through an OpenAI-compatible chat completions API.
type OpenAI struct {
	client *openai.Client
	config OpenAIConfig
	logger zerolog.Logger
}

// NewOpenAI creates an OpenAI-compatible capability.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = cfg.HTTPClient

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
		logger: cfg.Logger.With().Str("component", "openai_capability").Str("model", cfg.Model).Logger(),
	}
}

// Name implements Capability.
func (o *OpenAI) Name() string { return string(KindOpenAI) }

// Generate implements Capability.
func (o *OpenAI) Generate(ctx context.Context, messages []Message, opts Options) (Result, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.request(messages, opts, false))
	if err != nil {
		return Result{}, normalizeError(err)
	}

	if len(resp.Choices) == 0 {
		return Result{}, &UpstreamError{Code: "empty_choices", Message: "invalid response: no choices returned"}
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return Result{}, &UpstreamError{Code: "content_filter", Message: "response blocked by content filter"}
	}

	o.logger.Debug().
		Str("finish_reason", string(choice.FinishReason)).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("completion received")

	return Result{
		Content:          choice.Message.Content,
		Model:            resp.Model,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Metadata:         map[string]string{"provider": string(KindOpenAI), "response_id": resp.ID},
	}, nil
}

// Stream implements Capability.
func (o *OpenAI) Stream(ctx context.Context, messages []Message, opts Options) (io.ReadCloser, error) {
	stream, err := o.client.CreateChatCompletionStream(ctx, o.request(messages, opts, true))
	if err != nil {
		return nil, normalizeError(err)
	}
	return &streamReader{stream: stream}, nil
}

func (o *OpenAI) request(messages []Message, opts Options, stream bool) openai.ChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = o.config.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = o.config.MaxTokens
	}

	return openai.ChatCompletionRequest{
		Model:               model,
		Messages:            toOpenAIMessages(messages),
		MaxCompletionTokens: maxTokens,
		Temperature:         opts.Temperature,
		Stream:              stream,
	}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{Role: string(m.Role)}
		if !m.Content.IsParts() {
			msg.Content = m.Content.Text()
			out = append(out, msg)
			continue
		}
		for _, p := range m.Content.Parts() {
			switch p.Type {
			case PartText:
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: p.Text,
				})
			case PartImage:
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL},
				})
			}
		}
		out = append(out, msg)
	}
	return out
}

// streamReader adapts a chat completion stream to io.Reader.
type streamReader struct {
	stream *openai.ChatCompletionStream
	buf    []byte
	err    error
}

func (r *streamReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		resp, err := r.stream.Recv()
		if errors.Is(err, io.EOF) {
			r.err = io.EOF
			continue
		}
		if err != nil {
			r.err = normalizeError(err)
			continue
		}
		for _, choice := range resp.Choices {
			if choice.FinishReason == openai.FinishReasonContentFilter {
				r.err = &UpstreamError{Code: "content_filter", Message: "response blocked by content filter"}
			}
			r.buf = append(r.buf, choice.Delta.Content...)
		}
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *streamReader) Close() error {
	r.stream.Close()
	return nil
}

// normalizeError maps SDK and transport errors onto UpstreamError. Context
// and network errors are returned unchanged so their text still classifies.
func normalizeError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		return &UpstreamError{StatusCode: apiErr.HTTPStatusCode, Code: code, Message: apiErr.Message, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &UpstreamError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}

	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &UpstreamError{StatusCode: http.StatusServiceUnavailable, Code: "circuit_open", Message: err.Error(), Err: err}
	}
	return err
}
