// Package push delivers dose reminders as web push notifications using
// VAPID. Defunct subscriptions are reported so the caller can clear them.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	apperrors "github.com/davmgs/meditrack/internal/errors"
	"github.com/davmgs/meditrack/internal/reminder"
	"github.com/davmgs/meditrack/internal/store"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Config holds web push configuration.
type Config struct {
	Enabled         bool
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string // mailto: contact for the VAPID claim
}

// payload is the JSON body the service worker receives.
type payload struct {
	Title        string `json:"title"`
	Body         string `json:"body"`
	Icon         string `json:"icon"`
	Badge        string `json:"badge"`
	Tag          string `json:"tag"`
	URL          string `json:"url"`
	MedicationID string `json:"medicationId"`
	LogID        string `json:"logId"`
}

// Sender sends web push notifications. A circuit breaker shields the
// dispatch cycle when the push service is down.
type Sender struct {
	cfg     Config
	logger  *zap.Logger
	breaker *gobreaker.CircuitBreaker[*http.Response]
	enabled bool
}

// NewSender creates a push sender. Disabled config yields an inert sender.
func NewSender(cfg Config, logger *zap.Logger) *Sender {
	enabled := cfg.Enabled && cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != ""

	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    "webpush",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Push circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Sender{
		cfg:     cfg,
		logger:  logger,
		breaker: breaker,
		enabled: enabled,
	}
}

// Name implements reminder.Notifier.
func (s *Sender) Name() string { return "push" }

// Enabled implements reminder.Notifier.
func (s *Sender) Enabled(user *store.User) bool {
	return s.enabled && user.WebNotificationsEnabled && user.PushSubscriptionJSON != ""
}

// Send implements reminder.Notifier. A 404 or 410 from the push service
// means the subscription is dead and is surfaced as ErrSubscriptionGone.
func (s *Sender) Send(ctx context.Context, user *store.User, rem reminder.Reminder) error {
	if !s.enabled {
		return apperrors.ErrChannelNotConfigured
	}

	sub, err := user.Subscription()
	if err != nil || sub == nil {
		return apperrors.Wrap(err, "CHAN_001", "invalid push subscription")
	}

	body := fmt.Sprintf("Time to take %s", rem.MedicationName)
	if rem.Dosage != "" {
		body = fmt.Sprintf("Time to take %s (%s)", rem.MedicationName, rem.Dosage)
	}

	data, err := json.Marshal(payload{
		Title:        "💊 Medication Reminder",
		Body:         body,
		Icon:         "/icon-192.png",
		Badge:        "/badge-72.png",
		Tag:          rem.LogID,
		URL:          "/",
		MedicationID: rem.MedicationID,
		LogID:        rem.LogID,
	})
	if err != nil {
		return err
	}

	resp, err := s.breaker.Execute(func() (*http.Response, error) {
		return webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.Keys.P256dh,
				Auth:   sub.Keys.Auth,
			},
		}, &webpush.Options{
			Subscriber:      s.cfg.Subscriber,
			VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
			VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
			TTL:             300,
			Urgency:         webpush.UrgencyHigh,
		})
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return apperrors.Wrap(err, "CHAN_002", "push service unavailable")
		}
		return fmt.Errorf("webpush send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return apperrors.ErrSubscriptionGone
	case resp.StatusCode >= 400:
		return apperrors.New("CHAN_002", fmt.Sprintf("push service returned %d", resp.StatusCode))
	}

	return nil
}

// PublicKey returns the VAPID public key clients need to subscribe.
func (s *Sender) PublicKey() string { return s.cfg.VAPIDPublicKey }
