package alerting_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorstack/tutorguard/internal/alerting"
)

type recordingChannel struct {
	name string
	err  error

	mu        sync.Mutex
	delivered []alerting.Notification
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Deliver(_ context.Context, n alerting.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = append(c.delivered, n)
	return c.err
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.delivered)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newManager(clock *fakeClock, channels ...alerting.Channel) *alerting.Manager {
	cfg := alerting.DefaultManagerConfig(zerolog.Nop())
	cfg.Channels = channels
	cfg.Now = clock.Now
	return alerting.NewManager(cfg)
}

func outage(source string) alerting.Alert {
	return alerting.Alert{
		Type:     alerting.TypeServiceOutage,
		Severity: alerting.SeverityCritical,
		Title:    "AI service outage",
		Message:  "The AI upstream is down",
		Source:   source,
	}
}

func TestSendAlert_ThrottlesPerKey(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	ch := &recordingChannel{name: "test"}
	m := newManager(clock, ch)

	sent := 0
	for i := 0; i < 5; i++ {
		if _, ok := m.SendAlert(context.Background(), outage("ai")); ok {
			sent++
		}
		clock.Advance(10 * time.Second)
	}

	assert.Equal(t, 3, sent)
	assert.Equal(t, 3, ch.count())

	// Another source has its own budget.
	_, ok := m.SendAlert(context.Background(), outage("database"))
	assert.True(t, ok)

	// Once the window elapsed the counter restarts.
	clock.Advance(5 * time.Minute)
	_, ok = m.SendAlert(context.Background(), outage("ai"))
	assert.True(t, ok)
	assert.Equal(t, 5, ch.count())
}

func TestSendAlert_ChannelFailureDoesNotBlockOthers(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	broken := &recordingChannel{name: "broken", err: errors.New("smtp down")}
	healthy := &recordingChannel{name: "healthy"}
	m := newManager(clock, broken, healthy)

	n, ok := m.SendAlert(context.Background(), outage("ai"))

	require.True(t, ok)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, 1, broken.count())
	assert.Equal(t, 1, healthy.count())
}

type panickingChannel struct{}

func (panickingChannel) Name() string { return "panicky" }

func (panickingChannel) Deliver(context.Context, alerting.Notification) error {
	panic("channel exploded")
}

func TestSendAlert_ChannelPanicIsContained(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	healthy := &recordingChannel{name: "healthy"}
	m := newManager(clock, panickingChannel{}, healthy)

	var (
		n  alerting.Notification
		ok bool
	)
	require.NotPanics(t, func() {
		n, ok = m.SendAlert(context.Background(), outage("ai"))
	})

	assert.True(t, ok)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, 1, healthy.count())
	assert.Len(t, m.Alerts(alerting.Filter{}), 1)
}

func TestSendAlert_ConcurrentThrottle(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	ch := &recordingChannel{name: "test"}
	m := newManager(clock, ch)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sent int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := m.SendAlert(context.Background(), outage("ai")); ok {
				mu.Lock()
				sent++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, sent)
	assert.Equal(t, 3, ch.count())
	assert.Len(t, m.Alerts(alerting.Filter{}), 3)
}

type memoryStore struct {
	saved []alerting.Notification
	acked map[string]string
}

func (s *memoryStore) SaveAlert(_ context.Context, n alerting.Notification) error {
	s.saved = append(s.saved, n)
	return nil
}

func (s *memoryStore) AcknowledgeAlert(_ context.Context, id, by string, _ time.Time) error {
	if s.acked == nil {
		s.acked = make(map[string]string)
	}
	s.acked[id] = by
	return nil
}

func TestAcknowledgeAndFilter(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := &memoryStore{}
	cfg := alerting.DefaultManagerConfig(zerolog.Nop())
	cfg.Store = store
	cfg.Now = clock.Now
	m := alerting.NewManager(cfg)

	first, _ := m.SendAlert(context.Background(), outage("ai"))
	clock.Advance(time.Second)
	m.SendAlert(context.Background(), alerting.Alert{Type: alerting.TypeHighFallbackRate, Severity: alerting.SeverityWarning, Source: "monitor"})

	acked, err := m.Acknowledge(context.Background(), first.ID, "oncall@example.com")
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	assert.Equal(t, "oncall@example.com", acked.AcknowledgedBy)
	require.NotNil(t, acked.AcknowledgedAt)
	assert.Equal(t, "oncall@example.com", store.acked[first.ID])
	assert.Len(t, store.saved, 2)

	all := m.Alerts(alerting.Filter{})
	require.Len(t, all, 2)
	assert.Equal(t, alerting.TypeHighFallbackRate, all[0].Type, "newest first")

	open := m.Alerts(alerting.Filter{Unacknowledged: true})
	require.Len(t, open, 1)
	assert.Equal(t, alerting.TypeHighFallbackRate, open[0].Type)

	assert.Len(t, m.Alerts(alerting.Filter{Type: alerting.TypeServiceOutage}), 1)
	assert.Len(t, m.Alerts(alerting.Filter{Limit: 1}), 1)

	_, err = m.Acknowledge(context.Background(), "missing", "x")
	assert.ErrorIs(t, err, alerting.ErrAlertNotFound)
}

func TestWebhookChannel(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := alerting.NewWebhookChannel(alerting.WebhookConfig{URL: server.URL, Client: server.Client()})
	err := ch.Deliver(context.Background(), alerting.Notification{ID: "a1", Title: "Outage", Message: "AI down", Severity: alerting.SeverityCritical})

	require.NoError(t, err)
	assert.Equal(t, "[critical] Outage: AI down", got["text"])
}

func TestWebhookChannel_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	ch := alerting.NewWebhookChannel(alerting.WebhookConfig{URL: server.URL})
	err := ch.Deliver(context.Background(), alerting.Notification{ID: "a1"})
	assert.ErrorContains(t, err, "400")
}

type fakePublisher struct {
	data  []byte
	attrs map[string]string
}

func (p *fakePublisher) Publish(_ context.Context, data []byte, attrs map[string]string) error {
	p.data, p.attrs = data, attrs
	return nil
}

func TestPubSubChannel(t *testing.T) {
	pub := &fakePublisher{}
	ch := alerting.NewPubSubChannel(pub)

	err := ch.Deliver(context.Background(), alerting.Notification{ID: "a1", Type: alerting.TypeFallbackIncident, Severity: alerting.SeverityError, Source: "math"})
	require.NoError(t, err)

	var n alerting.Notification
	require.NoError(t, json.Unmarshal(pub.data, &n))
	assert.Equal(t, "a1", n.ID)
	assert.Equal(t, "fallback_incident", pub.attrs["alert_type"])
	assert.Equal(t, "math", pub.attrs["source"])
}

type fakeRedis struct {
	published []string
	list      []string
	trimStop  int64
	err       error
}

func (r *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	r.published = append(r.published, channel)
	return redis.NewIntResult(1, r.err)
}

func (r *fakeRedis) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	r.list = append(r.list, key)
	return redis.NewIntResult(int64(len(r.list)), nil)
}

func (r *fakeRedis) LTrim(_ context.Context, _ string, _, stop int64) *redis.StatusCmd {
	r.trimStop = stop
	return redis.NewStatusResult("OK", nil)
}

func TestRedisChannel(t *testing.T) {
	rdb := &fakeRedis{}
	ch := alerting.NewRedisChannel(alerting.RedisConfig{Client: rdb, MaxRecent: 50})

	require.NoError(t, ch.Deliver(context.Background(), alerting.Notification{ID: "a1"}))
	assert.Equal(t, []string{alerting.DefaultRedisChannel}, rdb.published)
	assert.Equal(t, []string{alerting.DefaultRedisListKey}, rdb.list)
	assert.Equal(t, int64(49), rdb.trimStop)

	rdb.err = errors.New("redis down")
	assert.Error(t, ch.Deliver(context.Background(), alerting.Notification{ID: "a2"}))
}

func TestEmailChannel(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	ch := alerting.NewEmailChannel(alerting.EmailConfig{
		Host: "smtp.example.com",
		From: "alerts@example.com",
		To:   []string{"oncall@example.com"},
		SendMail: func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
			gotAddr, gotTo, gotMsg = addr, to, string(msg)
			return nil
		},
	})

	err := ch.Deliver(context.Background(), alerting.Notification{ID: "a1", Title: "Outage", Message: "AI down", Severity: alerting.SeverityCritical})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"oncall@example.com"}, gotTo)
	assert.True(t, strings.Contains(gotMsg, "Subject: [CRITICAL] Outage"))

	noRecipients := alerting.NewEmailChannel(alerting.EmailConfig{Host: "smtp.example.com"})
	assert.Error(t, noRecipients.Deliver(context.Background(), alerting.Notification{}))
}

func TestChannels(t *testing.T) {
	channels, closeFn, err := alerting.Channels(context.Background(), alerting.ChannelsConfig{
		WebhookURL: "https://hooks.example.com/alerts",
		Redis:      &fakeRedis{},
		Email:      alerting.EmailConfig{Host: "smtp.example.com", From: "alerts@example.com", To: []string{"ops@example.com"}},
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeFn()) }()

	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name())
	}
	assert.Equal(t, []string{"log", "webhook", "in_app", "email"}, names)

	channels, _, err = alerting.Channels(context.Background(), alerting.ChannelsConfig{Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Len(t, channels, 1)
}
