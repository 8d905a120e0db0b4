package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacehealth/safety-engine/internal/config"
	"github.com/solacehealth/safety-engine/internal/database"
	"github.com/solacehealth/safety-engine/internal/metrics"
)

type fakeEmail struct {
	mu       sync.Mutex
	sent     []string
	subjects []string
	bodies   []string
	err      error
}

func (f *fakeEmail) Send(_ context.Context, to, subject, htmlBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, htmlBody)
	return nil
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSMS) Send(_ context.Context, to, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return nil
}

type fakeDeduper struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (f *fakeDeduper) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.held == nil {
		f.held = make(map[string]bool)
	}
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

type fakeStore struct {
	mu      sync.Mutex
	records []*database.Notification
	sent    []string
	failed  []string
}

func (f *fakeStore) Create(_ context.Context, n *database.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, n)
	return nil
}

func (f *fakeStore) MarkSent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	return nil
}

func testConfig() config.NotificationsConfig {
	return config.NotificationsConfig{
		Email: config.EmailConfig{
			CrisisTeamAddress: "crisis-team@solacehealth.io",
			RateLimitPerMin:   6000,
		},
		SMS:          config.SMSConfig{RateLimitPerMin: 6000},
		DedupeWindow: time.Hour,
	}
}

func newTestManager(t *testing.T, email *fakeEmail, sms *fakeSMS, dedupe *fakeDeduper, store *fakeStore) (*Manager, *metrics.Collector) {
	t.Helper()

	collector := metrics.NewCollector(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m, err := NewManager(testConfig(), email, sms, dedupe, store, logger, collector)
	require.NoError(t, err)
	return m, collector
}

func TestSendCrisisAlert(t *testing.T) {
	email := &fakeEmail{}
	store := &fakeStore{}
	m, _ := newTestManager(t, email, &fakeSMS{}, &fakeDeduper{}, store)

	result, err := m.SendCrisisAlert(context.Background(), "c-1", "m-1")

	require.NoError(t, err)
	require.Len(t, email.sent, 1)
	assert.Equal(t, "crisis-team@solacehealth.io", email.sent[0])
	assert.Contains(t, email.subjects[0], "c-1")
	assert.Contains(t, email.bodies[0], "m-1")
	require.Len(t, store.records, 1)
	assert.Len(t, store.sent, 1)

	payload, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, ChannelEmail, payload["channel"])
}

func TestSendCrisisAlertDeduplicates(t *testing.T) {
	email := &fakeEmail{}
	m, collector := newTestManager(t, email, &fakeSMS{}, &fakeDeduper{}, &fakeStore{})

	_, err := m.SendCrisisAlert(context.Background(), "c-1", "m-1")
	require.NoError(t, err)

	result, err := m.SendCrisisAlert(context.Background(), "c-1", "m-1")
	require.NoError(t, err)

	payload, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, payload["deduplicated"])
	assert.Len(t, email.sent, 1, "duplicate within the window is suppressed")
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.AlertsDeduplicated))
}

func TestSendCrisisAlertDistinctRecordsBothSend(t *testing.T) {
	email := &fakeEmail{}
	m, _ := newTestManager(t, email, &fakeSMS{}, &fakeDeduper{}, &fakeStore{})

	_, err := m.SendCrisisAlert(context.Background(), "c-1", "m-1")
	require.NoError(t, err)
	_, err = m.SendCrisisAlert(context.Background(), "c-1", "m-2")
	require.NoError(t, err)

	assert.Len(t, email.sent, 2)
}

func TestSendCrisisAlertDedupeOutageStillSends(t *testing.T) {
	email := &fakeEmail{}
	m, _ := newTestManager(t, email, &fakeSMS{}, &fakeDeduper{err: errors.New("redis down")}, &fakeStore{})

	_, err := m.SendCrisisAlert(context.Background(), "c-1", "m-1")

	require.NoError(t, err)
	assert.Len(t, email.sent, 1, "dedupe store outage must not block a crisis alert")
}

func TestSendCrisisAlertDeliveryFailure(t *testing.T) {
	email := &fakeEmail{err: errors.New("451 greylisted")}
	store := &fakeStore{}
	m, _ := newTestManager(t, email, &fakeSMS{}, &fakeDeduper{}, store)

	_, err := m.SendCrisisAlert(context.Background(), "c-1", "m-1")

	require.Error(t, err)
	assert.Len(t, store.failed, 1)
	assert.Empty(t, store.sent)
}

func TestNotifyCounselorEmail(t *testing.T) {
	email := &fakeEmail{}
	sms := &fakeSMS{}
	m, _ := newTestManager(t, email, sms, &fakeDeduper{}, &fakeStore{})

	_, err := m.NotifyCounselor(context.Background(), "co@solacehealth.io", "Status change", "wellbeing_change",
		map[string]interface{}{"clientId": "c-1", "previousStatus": "yellow", "newStatus": "red"})

	require.NoError(t, err)
	require.Len(t, email.sent, 1)
	assert.Empty(t, sms.sent)
	assert.Contains(t, email.bodies[0], "yellow")
	assert.Contains(t, email.bodies[0], "red")
}

func TestNotifyCounselorSMSByAddressShape(t *testing.T) {
	email := &fakeEmail{}
	sms := &fakeSMS{}
	m, _ := newTestManager(t, email, sms, &fakeDeduper{}, &fakeStore{})

	result, err := m.NotifyCounselor(context.Background(), "+15551234567", "", "generic",
		map[string]interface{}{"clientId": "c-1"})

	require.NoError(t, err)
	assert.Empty(t, email.sent)
	require.Len(t, sms.sent, 1)
	assert.Equal(t, "+15551234567", sms.sent[0])

	payload, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, ChannelSMS, payload["channel"])
}

func TestNotifyCounselorUnknownTemplateFallsBack(t *testing.T) {
	email := &fakeEmail{}
	m, _ := newTestManager(t, email, &fakeSMS{}, &fakeDeduper{}, &fakeStore{})

	_, err := m.NotifyCounselor(context.Background(), "co@solacehealth.io", "Subject", "no_such_template",
		map[string]interface{}{"clientId": "c-1"})

	require.NoError(t, err)
	require.Len(t, email.bodies, 1)
	assert.Contains(t, email.bodies[0], "c-1")
}

func TestNotifyCounselorRequiresAddress(t *testing.T) {
	m, _ := newTestManager(t, &fakeEmail{}, &fakeSMS{}, &fakeDeduper{}, &fakeStore{})

	_, err := m.NotifyCounselor(context.Background(), "", "Subject", "generic", nil)

	require.Error(t, err)
}
