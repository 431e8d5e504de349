package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/davmgs/meditrack/internal/channels/inapp"
	"github.com/davmgs/meditrack/internal/channels/push"
	"github.com/davmgs/meditrack/internal/channels/telegram"
	"github.com/davmgs/meditrack/internal/config"
	"github.com/davmgs/meditrack/internal/metrics"
	"github.com/davmgs/meditrack/internal/reminder"
	"github.com/davmgs/meditrack/internal/store"
	_ "github.com/glebarez/go-sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	db, err := gorm.Open(sqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	st, err := store.NewWithDB(db)
	require.NoError(t, err)
	require.NoError(t, st.CreateUser(&store.User{ID: "default", DisplayName: "User"}))
	require.NoError(t, st.SetTelegramChat("default", 1))
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{Address: "127.0.0.1", Port: 0},
		Reminders: config.RemindersConfig{
			ToleranceMinutes:      5,
			TimezoneOffsetMinutes: 0,
			DefaultSnoozeMinutes:  5,
			CronSecret:            "test-secret",
		},
		Security: config.SecurityConfig{
			JWTSecret:    "test-jwt-secret",
			AllowOrigins: []string{"*"},
		},
	}

	zl := zap.NewNop()
	m := metrics.New()
	actions := reminder.NewActions(st, cfg, zl, m)
	hub := inapp.NewHub(zl)
	pushSender := push.NewSender(push.Config{}, zl)
	tgBot, err := telegram.NewBot(telegram.Config{}, st, actions, zl)
	require.NoError(t, err)
	dispatcher := reminder.NewDispatcher(st, []reminder.Notifier{hub}, cfg, zl, m)

	srv := New(cfg, Deps{
		Store:      st,
		Dispatcher: dispatcher,
		Actions:    actions,
		Hub:        hub,
		Telegram:   tgBot,
		Push:       pushSender,
		Metrics:    m,
	}, zl)
	return srv, st
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out), "body: %s", data)
}

func login(t *testing.T, srv *Server) string {
	t.Helper()
	resp := doJSON(t, srv, "POST", "/api/auth/login", "", map[string]string{"password": ""})
	require.Equal(t, 200, resp.StatusCode)

	var body struct {
		Token string `json:"token"`
	}
	decode(t, resp, &body)
	require.NotEmpty(t, body.Token)
	return body.Token
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := doJSON(t, srv, "GET", "/api/health", "", nil)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, srv, "GET", "/api/medications", "", nil)
	assert.Equal(t, 401, resp.StatusCode)

	resp = doJSON(t, srv, "GET", "/api/medications", "not-a-token", nil)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestCronTriggerAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doJSON(t, srv, "GET", "/api/cron/reminders", "", nil)
	assert.Equal(t, 401, resp.StatusCode)

	resp = doJSON(t, srv, "GET", "/api/cron/reminders", "wrong-secret", nil)
	assert.Equal(t, 401, resp.StatusCode)

	resp = doJSON(t, srv, "GET", "/api/cron/reminders", "test-secret", nil)
	assert.Equal(t, 200, resp.StatusCode)

	var body struct {
		Success   bool `json:"success"`
		Processed int  `json:"processed"`
	}
	decode(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, 0, body.Processed)
}

func TestCronTriggerDisabledWithoutSecret(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.config.Reminders.CronSecret = ""

	resp := doJSON(t, srv, "GET", "/api/cron/reminders", "", nil)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestMedicationCRUD(t *testing.T) {
	srv, _ := newTestServer(t)
	token := login(t, srv)

	resp := doJSON(t, srv, "POST", "/api/medications", token, map[string]interface{}{
		"name":          "Metformin",
		"dosage":        "500mg",
		"times":         []string{"08:00", "20:00"},
		"currentSupply": 60,
		"supplyUnit":    "pills",
	})
	require.Equal(t, 201, resp.StatusCode)

	var med store.Medication
	decode(t, resp, &med)
	require.NotEmpty(t, med.ID)
	assert.Equal(t, []string{"08:00", "20:00"}, med.Times)

	resp = doJSON(t, srv, "GET", "/api/medications/"+med.ID, token, nil)
	assert.Equal(t, 200, resp.StatusCode)

	resp = doJSON(t, srv, "PUT", "/api/medications/"+med.ID, token, map[string]interface{}{
		"name":   "Metformin XR",
		"dosage": "750mg",
		"times":  []string{"09:00"},
	})
	require.Equal(t, 200, resp.StatusCode)
	decode(t, resp, &med)
	assert.Equal(t, "Metformin XR", med.Name)
	assert.Equal(t, []string{"09:00"}, med.Times)

	resp = doJSON(t, srv, "DELETE", "/api/medications/"+med.ID, token, nil)
	assert.Equal(t, 200, resp.StatusCode)

	resp = doJSON(t, srv, "GET", "/api/medications/"+med.ID, token, nil)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestMedicationValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	token := login(t, srv)

	resp := doJSON(t, srv, "POST", "/api/medications", token, map[string]interface{}{
		"name": "No times",
	})
	assert.Equal(t, 400, resp.StatusCode)

	resp = doJSON(t, srv, "POST", "/api/medications", token, map[string]interface{}{
		"name":  "Bad clock",
		"times": []string{"25:99"},
	})
	assert.Equal(t, 400, resp.StatusCode)
}

func TestDoseLogUpsertAndAction(t *testing.T) {
	srv, st := newTestServer(t)
	token := login(t, srv)

	supply := 10
	med := &store.Medication{
		UserID:        "default",
		Name:          "Aspirin",
		Times:         []string{"08:00"},
		StartDate:     time.Now().Add(-24 * time.Hour),
		CurrentSupply: &supply,
	}
	require.NoError(t, st.CreateMedication(med))

	resp := doJSON(t, srv, "POST", "/api/dose-logs", token, map[string]interface{}{
		"medicationId":  med.ID,
		"scheduledTime": "2025-06-15T08:00:00Z",
		"status":        "taken",
	})
	require.Equal(t, 200, resp.StatusCode)

	var log store.DoseLog
	decode(t, resp, &log)
	assert.Equal(t, med.ID+"_2025-06-15_0800", log.ID)
	assert.Equal(t, store.StatusTaken, log.Status)

	got, err := st.GetMedication(med.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, *got.CurrentSupply)

	// Correct the record through the action endpoint.
	resp = doJSON(t, srv, "POST", "/api/dose-logs/"+log.ID+"/action", token, map[string]interface{}{
		"action": "skip",
	})
	require.Equal(t, 200, resp.StatusCode)
	decode(t, resp, &log)
	assert.Equal(t, store.StatusSkipped, log.Status)

	got, err = st.GetMedication(med.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, *got.CurrentSupply)

	resp = doJSON(t, srv, "GET", "/api/dose-logs?status=skipped", token, nil)
	require.Equal(t, 200, resp.StatusCode)
	var list struct {
		DoseLogs []store.DoseLog `json:"doseLogs"`
	}
	decode(t, resp, &list)
	assert.Len(t, list.DoseLogs, 1)
}

func TestDoseActionValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	token := login(t, srv)

	resp := doJSON(t, srv, "POST", "/api/dose-logs/unknown/action", token, map[string]interface{}{
		"action": "take",
	})
	assert.Equal(t, 404, resp.StatusCode)

	resp = doJSON(t, srv, "POST", "/api/dose-logs/unknown/action", token, map[string]interface{}{
		"action": "detonate",
	})
	assert.Equal(t, 400, resp.StatusCode)
}

func TestPushSubscribeLifecycle(t *testing.T) {
	srv, st := newTestServer(t)
	token := login(t, srv)

	// Sender has no VAPID keys in tests.
	resp := doJSON(t, srv, "GET", "/api/push/public-key", "", nil)
	assert.Equal(t, 503, resp.StatusCode)

	resp = doJSON(t, srv, "POST", "/api/push/subscribe", token, map[string]interface{}{
		"endpoint": "https://push.example/abc",
		"keys":     map[string]string{"p256dh": "p", "auth": "a"},
	})
	require.Equal(t, 200, resp.StatusCode)

	user, err := st.GetUser("default")
	require.NoError(t, err)
	assert.True(t, user.WebNotificationsEnabled)

	resp = doJSON(t, srv, "POST", "/api/push/unsubscribe", token, nil)
	require.Equal(t, 200, resp.StatusCode)

	user, err = st.GetUser("default")
	require.NoError(t, err)
	assert.False(t, user.WebNotificationsEnabled)
}

func TestPushSubscribeValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	token := login(t, srv)

	resp := doJSON(t, srv, "POST", "/api/push/subscribe", token, map[string]interface{}{
		"endpoint": "https://push.example/abc",
	})
	assert.Equal(t, 400, resp.StatusCode)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.config.Security.AdminPassword = "hunter2"

	resp := doJSON(t, srv, "POST", "/api/auth/login", "", map[string]string{"password": "wrong"})
	assert.Equal(t, 401, resp.StatusCode)

	resp = doJSON(t, srv, "POST", "/api/auth/login", "", map[string]string{"password": "hunter2"})
	assert.Equal(t, 200, resp.StatusCode)
}
