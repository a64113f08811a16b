package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itemreminder/go-server/internal/model"
	"itemreminder/go-server/internal/store"
)

type fakeUserStore struct {
	mu            sync.Mutex
	users         map[string]*model.User
	clearedTokens []string
	sentAlerts    []string
}

func (f *fakeUserStore) UserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserStore) ClearPushToken(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearedTokens = append(f.clearedTokens, userID)
	return nil
}

func (f *fakeUserStore) MarkAlertNotificationSent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentAlerts = append(f.sentAlerts, id)
	return nil
}

func testUser() *model.User {
	return &model.User{
		ID:                 "user-1",
		Email:              "casey@example.com",
		Name:               "Casey",
		PushToken:          "tok-123",
		EmailNotifications: true,
		PushNotifications:  true,
	}
}

func testAlert() model.Alert {
	return model.Alert{
		ID:       "alert-1",
		UserID:   "user-1",
		ItemID:   "item-1",
		Type:     model.AlertLowWeight,
		Severity: model.SeverityWarning,
		Message:  "Vitamins is running low (42g)",
	}
}

func newTestNotifier(cfg Config, users ...*model.User) (*Notifier, *fakeUserStore) {
	st := &fakeUserStore{users: make(map[string]*model.User)}
	for _, u := range users {
		st.users[u.ID] = u
	}
	return New(cfg, st, slog.New(slog.NewTextHandler(io.Discard, nil))), st
}

func TestDispatchPushAndEmail(t *testing.T) {
	var mu sync.Mutex
	var fcmAuth, sgAuth string
	var fcmBody map[string]any

	fcm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		fcmAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&fcmBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer fcm.Close()

	sg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		sgAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer sg.Close()

	n, st := newTestNotifier(Config{
		FCMServerKey:    "fcm-key",
		FCMEndpoint:     fcm.URL,
		SendGridAPIKey:  "sg-key",
		SendGridBaseURL: sg.URL,
		FromEmail:       "alerts@example.com",
		FromName:        "Item Reminder",
	}, testUser())

	n.Dispatch(testAlert())
	n.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "key=fcm-key", fcmAuth)
	assert.Equal(t, "Bearer sg-key", sgAuth)
	require.NotNil(t, fcmBody)
	assert.Equal(t, "tok-123", fcmBody["to"])

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, []string{"alert-1"}, st.sentAlerts)
	assert.Empty(t, st.clearedTokens)
}

func TestInvalidPushTokenCleared(t *testing.T) {
	var calls int
	var mu sync.Mutex

	fcm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	}))
	defer fcm.Close()

	n, st := newTestNotifier(Config{
		FCMServerKey: "fcm-key",
		FCMEndpoint:  fcm.URL,
	}, testUser())

	n.Dispatch(testAlert())
	n.Drain()

	mu.Lock()
	assert.Equal(t, 1, calls, "rejected tokens must not be retried")
	mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, []string{"user-1"}, st.clearedTokens)
	assert.Empty(t, st.sentAlerts, "no channel delivered")
}

func TestTransientPushFailureRetried(t *testing.T) {
	var calls int
	var mu sync.Mutex

	fcm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer fcm.Close()

	n, st := newTestNotifier(Config{
		FCMServerKey: "fcm-key",
		FCMEndpoint:  fcm.URL,
	}, testUser())

	n.Dispatch(testAlert())
	n.Drain()

	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, []string{"alert-1"}, st.sentAlerts)
}

func TestChannelPreferencesRespected(t *testing.T) {
	var pushes, emails int
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		if r.URL.Path == "/v3/mail/send" {
			emails++
		} else {
			pushes++
		}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	user := testUser()
	user.PushNotifications = false

	n, st := newTestNotifier(Config{
		FCMServerKey:    "fcm-key",
		FCMEndpoint:     srv.URL,
		SendGridAPIKey:  "sg-key",
		SendGridBaseURL: srv.URL,
		FromEmail:       "alerts@example.com",
	}, user)

	n.Dispatch(testAlert())
	n.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, pushes)
	assert.Equal(t, 1, emails)

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, []string{"alert-1"}, st.sentAlerts)
}

func TestNoCredentialsNoDelivery(t *testing.T) {
	n, st := newTestNotifier(Config{}, testUser())

	n.Dispatch(testAlert())
	n.Drain()

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Empty(t, st.sentAlerts)
}

func TestUnknownUserIgnored(t *testing.T) {
	n, st := newTestNotifier(Config{FCMServerKey: "k"})

	n.Dispatch(testAlert())
	n.Drain()

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Empty(t, st.sentAlerts)
	assert.Empty(t, st.clearedTokens)
}
