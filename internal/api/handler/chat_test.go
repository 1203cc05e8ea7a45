package handler_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorstack/tutorguard/internal/api/handler"
	"github.com/tutorstack/tutorguard/internal/featuregate"
	"github.com/tutorstack/tutorguard/internal/orchestrator"
)

type recordingTutor struct {
	got []orchestrator.Request
}

func (t *recordingTutor) Handle(_ context.Context, req orchestrator.Request) orchestrator.Response {
	t.got = append(t.got, req)
	return orchestrator.Response{Content: "ok"}
}

func (t *recordingTutor) Stream(_ context.Context, req orchestrator.Request, w io.Writer) (orchestrator.Response, error) {
	t.got = append(t.got, req)
	_, err := io.WriteString(w, "ok")
	return orchestrator.Response{Content: "ok"}, err
}

func TestChatHandler_Feature(t *testing.T) {
	tests := []struct {
		name   string
		stream bool
		body   string
		want   string
	}{
		{"chat leaves default to orchestrator", false, `{"query":"what is a mole?"}`, ""},
		{"stream defaults to streaming feature", true, `{"query":"what is a mole?"}`, featuregate.FeatureAIStreaming},
		{"stream keeps explicit feature", true, `{"query":"what is a mole?","feature":"ai_chat"}`, featuregate.FeatureAIChat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tutor := &recordingTutor{}
			h := handler.NewChatHandler(tutor)

			req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			if tt.stream {
				h.ChatStream(rec, req)
			} else {
				h.Chat(rec, req)
			}

			assert.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, tutor.got, 1)
			assert.Equal(t, tt.want, tutor.got[0].Feature)
		})
	}
}
