package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/solacehealth/safety-engine/internal/config"
	"github.com/solacehealth/safety-engine/internal/database"
	"github.com/solacehealth/safety-engine/internal/metrics"
)

// Channels for persisted notification records.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// EmailSender delivers a single email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMSSender delivers a single SMS message.
type SMSSender interface {
	Send(ctx context.Context, to, body string) error
}

// Deduper grants at most one send per key within a window.
type Deduper interface {
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
}

// NotificationStore persists delivery attempts and their outcomes.
type NotificationStore interface {
	Create(ctx context.Context, notification *database.Notification) error
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, deliveryErr string) error
}

// RedisDeduper implements Deduper with SET NX so concurrent senders across
// instances agree on who holds the window.
type RedisDeduper struct {
	client *redis.Client
}

// NewRedisDeduper creates a Redis-backed deduper.
func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client}
}

// Acquire returns true when the key was not yet held within the window.
func (d *RedisDeduper) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire dedupe key %s: %w", key, err)
	}
	return ok, nil
}

// Manager delivers crisis alerts and counselor notifications. It fans out to
// email or SMS based on the recipient address, deduplicates crisis alerts
// within a configured window, rate-limits each channel, and records every
// attempt in the notification store.
type Manager struct {
	email        EmailSender
	sms          SMSSender
	dedupe       Deduper
	store        NotificationStore
	templates    map[string]*pongo2.Template
	emailLimiter *rate.Limiter
	smsLimiter   *rate.Limiter

	crisisTeamAddress string
	dedupeWindow      time.Duration

	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewManager creates a notification manager.
func NewManager(
	cfg config.NotificationsConfig,
	email EmailSender,
	sms SMSSender,
	dedupe Deduper,
	store NotificationStore,
	logger *slog.Logger,
	collector *metrics.Collector,
) (*Manager, error) {
	templates, err := compileTemplates()
	if err != nil {
		return nil, err
	}

	emailRate := cfg.Email.RateLimitPerMin
	if emailRate <= 0 {
		emailRate = 60
	}
	smsRate := cfg.SMS.RateLimitPerMin
	if smsRate <= 0 {
		smsRate = 10
	}
	window := cfg.DedupeWindow
	if window <= 0 {
		window = time.Hour
	}

	return &Manager{
		email:             email,
		sms:               sms,
		dedupe:            dedupe,
		store:             store,
		templates:         templates,
		emailLimiter:      rate.NewLimiter(rate.Limit(float64(emailRate)/60.0), emailRate),
		smsLimiter:        rate.NewLimiter(rate.Limit(float64(smsRate)/60.0), smsRate),
		crisisTeamAddress: cfg.Email.CrisisTeamAddress,
		dedupeWindow:      window,
		logger:            logger,
		metrics:           collector,
	}, nil
}

// SendCrisisAlert delivers a crisis alert email to the crisis team. Repeat
// alerts for the same subject and record within the dedupe window are
// suppressed and reported as successful, suppressed sends.
func (m *Manager) SendCrisisAlert(ctx context.Context, subjectID, recordID string) (interface{}, error) {
	key := fmt.Sprintf("crisis-alert:%s:%s", subjectID, recordID)

	acquired, err := m.dedupe.Acquire(ctx, key, m.dedupeWindow)
	if err != nil {
		// The dedupe store being down must not block a crisis alert.
		m.logger.Error("Dedupe check failed, sending anyway", "key", key, "error", err)
	} else if !acquired {
		m.metrics.AlertsDeduplicated.Inc()
		m.logger.Info("Crisis alert suppressed by dedupe window",
			"subject_id", subjectID,
			"record_id", recordID)
		return map[string]interface{}{"deduplicated": true}, nil
	}

	if m.crisisTeamAddress == "" {
		return nil, fmt.Errorf("no crisis team address configured")
	}

	body, err := m.render("crisis_alert", pongo2.Context{
		"subject_id":  subjectID,
		"record_id":   recordID,
		"detected_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	subject := fmt.Sprintf("Crisis alert for client %s", subjectID)
	notificationID, err := m.deliverEmail(ctx, m.crisisTeamAddress, subject, body)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{"notificationId": notificationID, "channel": ChannelEmail}, nil
}

// NotifyCounselor renders the named template with the event payload and
// delivers it to the given address. Addresses starting with "+" are treated
// as phone numbers and go out over SMS; everything else is email.
func (m *Manager) NotifyCounselor(ctx context.Context, address, subject, templateName string, data map[string]interface{}) (interface{}, error) {
	if address == "" {
		return nil, fmt.Errorf("no contact address for notification")
	}

	body, err := m.render(templateName, pongo2.Context(data))
	if err != nil {
		return nil, err
	}

	var notificationID string
	channel := ChannelEmail
	if strings.HasPrefix(address, "+") {
		channel = ChannelSMS
		notificationID, err = m.deliverSMS(ctx, address, body)
	} else {
		notificationID, err = m.deliverEmail(ctx, address, subject, body)
	}
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{"notificationId": notificationID, "channel": channel}, nil
}

func (m *Manager) deliverEmail(ctx context.Context, to, subject, body string) (string, error) {
	record := &database.Notification{
		ID:        uuid.NewString(),
		Channel:   ChannelEmail,
		Recipient: to,
		Subject:   subject,
		Body:      body,
	}
	if err := m.store.Create(ctx, record); err != nil {
		return "", err
	}

	if err := m.emailLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("email rate limiter: %w", err)
	}

	if err := m.email.Send(ctx, to, subject, body); err != nil {
		m.metrics.NotificationsTotal.WithLabelValues(ChannelEmail, "failed").Inc()
		if markErr := m.store.MarkFailed(ctx, record.ID, err.Error()); markErr != nil {
			m.logger.Error("Failed to mark notification failed", "notification_id", record.ID, "error", markErr)
		}
		return "", fmt.Errorf("failed to send email to %s: %w", to, err)
	}

	m.metrics.NotificationsTotal.WithLabelValues(ChannelEmail, "sent").Inc()
	if err := m.store.MarkSent(ctx, record.ID); err != nil {
		m.logger.Error("Failed to mark notification sent", "notification_id", record.ID, "error", err)
	}
	return record.ID, nil
}

func (m *Manager) deliverSMS(ctx context.Context, to, body string) (string, error) {
	record := &database.Notification{
		ID:        uuid.NewString(),
		Channel:   ChannelSMS,
		Recipient: to,
		Body:      body,
	}
	if err := m.store.Create(ctx, record); err != nil {
		return "", err
	}

	if err := m.smsLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("sms rate limiter: %w", err)
	}

	if err := m.sms.Send(ctx, to, body); err != nil {
		m.metrics.NotificationsTotal.WithLabelValues(ChannelSMS, "failed").Inc()
		if markErr := m.store.MarkFailed(ctx, record.ID, err.Error()); markErr != nil {
			m.logger.Error("Failed to mark notification failed", "notification_id", record.ID, "error", markErr)
		}
		return "", fmt.Errorf("failed to send sms to %s: %w", to, err)
	}

	m.metrics.NotificationsTotal.WithLabelValues(ChannelSMS, "sent").Inc()
	if err := m.store.MarkSent(ctx, record.ID); err != nil {
		m.logger.Error("Failed to mark notification sent", "notification_id", record.ID, "error", err)
	}
	return record.ID, nil
}

func (m *Manager) render(templateName string, data pongo2.Context) (string, error) {
	tpl, ok := m.templates[templateName]
	if !ok {
		tpl = m.templates["generic"]
	}

	body, err := tpl.Execute(data)
	if err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", templateName, err)
	}
	return body, nil
}
