package capability_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorstack/tutorguard/internal/capability"
	"github.com/tutorstack/tutorguard/internal/errclass"
)

func TestContent_JSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantText  string
		wantParts bool
		wantErr   bool
	}{
		{"string", `{"role":"user","content":"What is a derivative?"}`, "What is a derivative?", false, false},
		{"parts", `{"role":"user","content":[{"type":"text","text":"Explain this"},{"type":"image_url","image_url":"https://x/y.png"},{"type":"text","text":"graph"}]}`, "Explain this\ngraph", true, false},
		{"null", `{"role":"user","content":null}`, "", false, false},
		{"number", `{"role":"user","content":42}`, "", false, true},
		{"unknown part", `{"role":"user","content":[{"type":"audio"}]}`, "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m capability.Message
			err := json.Unmarshal([]byte(tt.input), &m)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, capability.RoleUser, m.Role)
			assert.Equal(t, tt.wantText, m.Content.Text())
			assert.Equal(t, tt.wantParts, m.Content.IsParts())
		})
	}
}

func TestContent_MarshalRoundTripsShape(t *testing.T) {
	text, err := json.Marshal(capability.UserMessage("hi"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"hi"}`, string(text))

	parts, err := json.Marshal(capability.Message{
		Role:    capability.RoleUser,
		Content: capability.PartsContent(capability.Part{Type: capability.PartText, Text: "hi"}),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":[{"type":"text","text":"hi"}]}`, string(parts))
}

func TestLastUserText(t *testing.T) {
	msgs := []capability.Message{
		capability.SystemMessage("You are a tutor."),
		capability.UserMessage("first"),
		{Role: capability.RoleAssistant, Content: capability.TextContent("answer")},
		capability.UserMessage("second"),
	}
	assert.Equal(t, "second", capability.LastUserText(msgs))
	assert.Empty(t, capability.LastUserText(msgs[:1]))
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name string
		cfg  capability.Config
		want capability.Kind
	}{
		{"preview uses mock", capability.Config{Preview: true, APIKey: "sk-test"}, capability.KindMock},
		{"missing key uses mock", capability.Config{}, capability.KindMock},
		{"key selects openai", capability.Config{APIKey: "sk-test"}, capability.KindOpenAI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, kind := capability.Select(tt.cfg)
			assert.Equal(t, tt.want, kind)
			assert.Equal(t, string(tt.want), c.Name())
		})
	}
}

func TestMock_ScriptedFailuresThenReplies(t *testing.T) {
	boom := errors.New("Request timeout")
	m := capability.NewMock(capability.MockConfig{Failures: []error{boom}})
	m.Script(errors.New("rate limit exceeded"))

	msgs := []capability.Message{capability.UserMessage("How do I factor x^2-1?")}
	opts := capability.Options{Subject: "math", Topic: "algebra"}

	_, err := m.Generate(context.Background(), msgs, opts)
	assert.ErrorIs(t, err, boom)
	_, err = m.Generate(context.Background(), msgs, opts)
	assert.ErrorContains(t, err, "rate limit")

	res, err := m.Generate(context.Background(), msgs, opts)
	require.NoError(t, err)
	assert.Contains(t, res.Content, "math question on algebra")
	assert.Contains(t, res.Content, "How do I factor x^2-1?")

	again, err := m.Generate(context.Background(), msgs, opts)
	require.NoError(t, err)
	assert.Equal(t, res.Content, again.Content, "replies are deterministic")
	assert.Equal(t, 4, m.Calls())
}

func TestMock_FailWithAndLatency(t *testing.T) {
	m := capability.NewMock(capability.MockConfig{Latency: 200 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Generate(ctx, nil, capability.Options{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	outage := errors.New("service unavailable")
	fast := capability.NewMock(capability.MockConfig{})
	fast.FailWith(outage)
	_, err = fast.Stream(context.Background(), nil, capability.Options{})
	assert.ErrorIs(t, err, outage)

	fast.FailWith(nil)
	rc, err := fast.Stream(context.Background(), []capability.Message{capability.UserMessage("hi")}, capability.Options{})
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hi")
}

func newOpenAI(t *testing.T, handler http.HandlerFunc) *capability.OpenAI {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return capability.NewOpenAI(capability.OpenAIConfig{
		APIKey:     "sk-test",
		BaseURL:    server.URL + "/v1",
		HTTPClient: server.Client(),
		Logger:     zerolog.Nop(),
	})
}

func TestOpenAI_Generate(t *testing.T) {
	var got map[string]interface{}
	c := newOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Factor it as (x-1)(x+1)."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":8,"total_tokens":20}}`))
	})

	res, err := c.Generate(context.Background(), []capability.Message{
		capability.SystemMessage("You are a patient tutor."),
		capability.UserMessage("Factor x^2-1"),
	}, capability.Options{})
	require.NoError(t, err)

	assert.Equal(t, "Factor it as (x-1)(x+1).", res.Content)
	assert.Equal(t, "stop", res.FinishReason)
	assert.Equal(t, 8, res.CompletionTokens)
	assert.Equal(t, "chatcmpl-1", res.Metadata["response_id"])
	assert.Equal(t, capability.DefaultModel, got["model"])
	assert.Len(t, got["messages"], 2)
}

func TestOpenAI_ErrorsAreNormalised(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantStatus   int
		wantCode     string
		wantCategory errclass.Category
	}{
		{
			name:         "rate limited",
			status:       http.StatusTooManyRequests,
			body:         `{"error":{"message":"Rate limit reached for requests","type":"requests","code":"rate_limit_exceeded"}}`,
			wantStatus:   429,
			wantCode:     "rate_limit_exceeded",
			wantCategory: errclass.CategoryRateLimit,
		},
		{
			name:         "bad key",
			status:       http.StatusUnauthorized,
			body:         `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`,
			wantStatus:   401,
			wantCode:     "invalid_api_key",
			wantCategory: errclass.CategoryAuthentication,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Generate(context.Background(), []capability.Message{capability.UserMessage("hi")}, capability.Options{})
			require.Error(t, err)

			var upErr *capability.UpstreamError
			require.ErrorAs(t, err, &upErr)
			assert.Equal(t, tt.wantStatus, upErr.HTTPStatus())
			assert.Equal(t, tt.wantCode, upErr.Code)
			assert.Equal(t, tt.wantStatus, errclass.StatusCode(err))
			assert.Equal(t, tt.wantCategory, errclass.Classify(err).Category)
		})
	}
}

func TestOpenAI_ContentFilter(t *testing.T) {
	c := newOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"content_filter"}]}`))
	})

	_, err := c.Generate(context.Background(), []capability.Message{capability.UserMessage("hi")}, capability.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content filter")
}

func TestOpenAI_Stream(t *testing.T) {
	c := newOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"Start ", "with ", "the unit circle."} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	rc, err := c.Stream(context.Background(), []capability.Message{capability.UserMessage("sin?")}, capability.Options{})
	require.NoError(t, err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "Start with the unit circle.", string(body))
}

func TestUpstreamError_Message(t *testing.T) {
	assert.Equal(t, "upstream status 503 (circuit_open): down", (&capability.UpstreamError{StatusCode: 503, Code: "circuit_open", Message: "down"}).Error())
	assert.Equal(t, "upstream status 500: boom", (&capability.UpstreamError{StatusCode: 500, Message: "boom"}).Error())
	assert.Equal(t, "upstream: no choices", (&capability.UpstreamError{Message: "no choices"}).Error())
}
