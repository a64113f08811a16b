// Package notify delivers alerts via push and email. Delivery is best-effort
// and fully decoupled from alert creation: failures are logged, never
// propagated back to the triggering path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"itemreminder/go-server/internal/model"
	"itemreminder/go-server/internal/store"
)

// UserStore is the slice of the storage layer the notifier needs.
type UserStore interface {
	UserByID(ctx context.Context, id string) (*model.User, error)
	ClearPushToken(ctx context.Context, userID string) error
	MarkAlertNotificationSent(ctx context.Context, id string) error
}

// Config lists the delivery channel credentials. A channel with no
// credentials configured is skipped silently.
type Config struct {
	FCMServerKey    string
	FCMEndpoint     string
	SendGridAPIKey  string
	SendGridBaseURL string
	FromEmail       string
	FromName        string
	MaxConcurrent   int64
	SendTimeout     time.Duration
}

// Notifier fans alerts out to the configured channels in the background.
type Notifier struct {
	cfg    Config
	store  UserStore
	http   *http.Client
	logger *slog.Logger
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
}

// New constructs a notifier.
func New(cfg Config, st UserStore, logger *slog.Logger) *Notifier {
	if cfg.FCMEndpoint == "" {
		cfg.FCMEndpoint = "https://fcm.googleapis.com/fcm/send"
	}
	if cfg.SendGridBaseURL == "" {
		cfg.SendGridBaseURL = "https://api.sendgrid.com"
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}

	return &Notifier{
		cfg:    cfg,
		store:  st,
		http:   &http.Client{Timeout: cfg.SendTimeout},
		logger: logger,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// Dispatch queues background delivery of an alert and returns immediately.
func (n *Notifier) Dispatch(alert model.Alert) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				n.logger.Error("notification dispatch panicked", "alert", alert.ID, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if err := n.sem.Acquire(ctx, 1); err != nil {
			n.logger.Warn("notification dispatch timed out in queue", "alert", alert.ID)
			return
		}
		defer n.sem.Release(1)

		n.deliver(ctx, alert)
	}()
}

// Drain blocks until all queued deliveries finish. Used at shutdown.
func (n *Notifier) Drain() {
	n.wg.Wait()
}

func (n *Notifier) deliver(ctx context.Context, alert model.Alert) {
	user, err := n.store.UserByID(ctx, alert.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			n.logger.Error("notification user lookup failed", "alert", alert.ID, "error", err)
		}
		return
	}

	delivered := false

	if n.cfg.FCMServerKey != "" && user.PushNotifications && user.PushToken != "" {
		if err := n.withRetry(ctx, func() error { return n.sendPush(ctx, alert, user) }); err != nil {
			n.logger.Error("push notification failed", "alert", alert.ID, "error", err)
		} else {
			delivered = true
		}
	}

	if n.cfg.SendGridAPIKey != "" && user.EmailNotifications && user.Email != "" {
		if err := n.withRetry(ctx, func() error { return n.sendEmail(ctx, alert, user) }); err != nil {
			n.logger.Error("email notification failed", "alert", alert.ID, "error", err)
		} else {
			delivered = true
		}
	}

	if delivered {
		if err := n.store.MarkAlertNotificationSent(ctx, alert.ID); err != nil {
			n.logger.Error("failed to flag notification sent", "alert", alert.ID, "error", err)
		}
	}
}

// withRetry applies bounded exponential backoff; backoff.Permanent errors
// stop retrying immediately.
func (n *Notifier) withRetry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, policy)
}

// invalidTokenError marks a push token the provider rejected; it is not
// retried and the token is cleared from the user record.
type invalidTokenError struct{ status int }

func (e *invalidTokenError) Error() string {
	return fmt.Sprintf("push token rejected (status %d)", e.status)
}

func (n *Notifier) sendPush(ctx context.Context, alert model.Alert, user *model.User) error {
	body := map[string]any{
		"to": user.PushToken,
		"notification": map[string]any{
			"title":    "Item Reminder Alert",
			"body":     alert.Message,
			"priority": "high",
		},
		"data": map[string]any{
			"alert_id": alert.ID,
			"type":     alert.Type,
			"severity": alert.Severity,
		},
	}

	status, err := n.postJSON(ctx, n.cfg.FCMEndpoint, body, map[string]string{
		"Authorization": "key=" + n.cfg.FCMServerKey,
	})
	if err != nil {
		return err
	}

	switch {
	case status >= 200 && status < 300:
		n.logger.Info("push notification sent", "alert", alert.ID, "user", user.ID)
		return nil
	case status == http.StatusNotFound || status == http.StatusGone || status == http.StatusBadRequest:
		if cerr := n.store.ClearPushToken(ctx, user.ID); cerr != nil {
			n.logger.Error("failed to clear invalid push token", "user", user.ID, "error", cerr)
		}
		return backoff.Permanent(&invalidTokenError{status: status})
	default:
		return fmt.Errorf("fcm returned status %d", status)
	}
}

func (n *Notifier) sendEmail(ctx context.Context, alert model.Alert, user *model.User) error {
	subject := fmt.Sprintf("Item Reminder: %s alert", alert.Severity)
	body := map[string]any{
		"personalizations": []map[string]any{{
			"to": []map[string]string{{"email": user.Email, "name": user.Name}},
		}},
		"from":    map[string]string{"email": n.cfg.FromEmail, "name": n.cfg.FromName},
		"subject": subject,
		"content": []map[string]string{{
			"type":  "text/plain",
			"value": alert.Message,
		}},
	}

	status, err := n.postJSON(ctx, n.cfg.SendGridBaseURL+"/v3/mail/send", body, map[string]string{
		"Authorization": "Bearer " + n.cfg.SendGridAPIKey,
	})
	if err != nil {
		return err
	}

	if status >= 200 && status < 300 {
		n.logger.Info("email notification sent", "alert", alert.ID, "user", user.ID)
		return nil
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return backoff.Permanent(fmt.Errorf("sendgrid returned status %d", status))
	}
	return fmt.Errorf("sendgrid returned status %d", status)
}

func (n *Notifier) postJSON(ctx context.Context, url string, body any, headers map[string]string) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := n.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
