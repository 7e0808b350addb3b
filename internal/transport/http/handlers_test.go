package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"halocore/internal/billing"
	apierrors "halocore/internal/errors"
	"halocore/internal/license"
	"halocore/internal/services"
	"halocore/internal/store"
)

const testWebhookSecret = "whsec-test"

type testEnv struct {
	router chi.Router
	store  *store.MemStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemStore()
	eh := apierrors.NewErrorHandler(logger, false)

	licenseSvc := services.NewLicenseService(mem, logger)
	adminSvc := services.NewAdminService(mem, logger)
	processor := billing.NewProcessor(mem, testWebhookSecret, logger)

	r := chi.NewRouter()
	r.Mount("/api/license", NewLicenseHandler(licenseSvc, eh, nil, logger).Routes())
	r.Mount("/api/webhook", NewWebhookHandler(processor, eh, nil, logger).Routes())
	r.Mount("/api/admin", NewAdminHandler(adminSvc, eh, logger).Routes())
	r.Mount("/health", NewHealthHandler(mem, logger).Routes())

	return &testEnv{router: r, store: mem}
}

func (e *testEnv) seed(t *testing.T, l *license.License) {
	t.Helper()
	require.NoError(t, e.store.Create(context.Background(), l))
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func activeLicense(key string) *license.License {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &license.License{
		ID:          "lic-" + key,
		Key:         key,
		Email:       "owner@example.com",
		Status:      license.StatusActive,
		Personality: license.PersonalityNova,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestActivateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, activeLicense("HL-AAAAAAAA-BBBBBBBB-CCCCCCCC"))

	rec := env.do(t, http.MethodPost, "/api/license/activate", map[string]string{
		"license_key":        "HL-AAAAAAAA-BBBBBBBB-CCCCCCCC",
		"device_fingerprint": "fp-1",
		"device_name":        "Work Laptop",
		"app_version":        "1.4.0",
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "nova", body["personality"])
}

func TestActivateDeviceConflict(t *testing.T) {
	env := newTestEnv(t)
	l := activeLicense("HL-AAAAAAAA-BBBBBBBB-CCCCCCCC")
	l.DeviceFingerprint = "fp-1"
	env.seed(t, l)

	rec := env.do(t, http.MethodPost, "/api/license/activate", map[string]string{
		"license_key":        "HL-AAAAAAAA-BBBBBBBB-CCCCCCCC",
		"device_fingerprint": "fp-2",
	}, nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(http.StatusConflict), body["status"])
}

func TestActivateUnknownKey(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/license/activate", map[string]string{
		"license_key":        "HL-00000000-00000000-00000000",
		"device_fingerprint": "fp-1",
	}, nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActivateSuspendedLicense(t *testing.T) {
	env := newTestEnv(t)
	l := activeLicense("HL-AAAAAAAA-BBBBBBBB-CCCCCCCC")
	l.Status = license.StatusSuspended
	now := time.Now().UTC()
	l.SuspendedAt = &now
	env.seed(t, l)

	rec := env.do(t, http.MethodPost, "/api/license/activate", map[string]string{
		"license_key":        "HL-AAAAAAAA-BBBBBBBB-CCCCCCCC",
		"device_fingerprint": "fp-1",
	}, nil)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestActivateValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/license/activate", map[string]string{
		"license_key": "HL-AAAAAAAA-BBBBBBBB-CCCCCCCC",
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHeartbeatGraceWarning(t *testing.T) {
	env := newTestEnv(t)
	l := activeLicense("HL-AAAAAAAA-BBBBBBBB-CCCCCCCC")
	l.Status = license.StatusSuspended
	l.DeviceFingerprint = "fp-1"
	suspendedAt := time.Now().UTC().Add(-24 * time.Hour)
	l.SuspendedAt = &suspendedAt
	env.seed(t, l)

	rec := env.do(t, http.MethodPost, "/api/license/heartbeat", map[string]string{
		"license_key":        "HL-AAAAAAAA-BBBBBBBB-CCCCCCCC",
		"device_fingerprint": "fp-1",
	}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "warn", body["action"])
	assert.Equal(t, "License is suspended", body["reason"])
	assert.NotEmpty(t, body["grace_period_ends"])
}

func TestHeartbeatForeignDevice(t *testing.T) {
	env := newTestEnv(t)
	l := activeLicense("HL-AAAAAAAA-BBBBBBBB-CCCCCCCC")
	l.DeviceFingerprint = "fp-1"
	env.seed(t, l)

	rec := env.do(t, http.MethodPost, "/api/license/heartbeat", map[string]string{
		"license_key":        "HL-AAAAAAAA-BBBBBBBB-CCCCCCCC",
		"device_fingerprint": "fp-other",
	}, nil)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, activeLicense("HL-AAAAAAAA-BBBBBBBB-CCCCCCCC"))

	rec := env.do(t, http.MethodGet, "/api/license/status?key=HL-AAAAAAAA-BBBBBBBB-CCCCCCCC", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "active", body["status"])

	rec = env.do(t, http.MethodGet, "/api/license/status", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePersonalityEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, activeLicense("HL-AAAAAAAA-BBBBBBBB-CCCCCCCC"))

	rec := env.do(t, http.MethodPut, "/api/license/personality", map[string]string{
		"license_key": "HL-AAAAAAAA-BBBBBBBB-CCCCCCCC",
		"email":       "owner@example.com",
		"personality": "sage",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/license/personality", map[string]string{
		"license_key": "HL-AAAAAAAA-BBBBBBBB-CCCCCCCC",
		"email":       "owner@example.com",
		"personality": "pirate",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePersonalityRequiresOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, activeLicense("HL-AAAAAAAA-BBBBBBBB-CCCCCCCC"))

	attacker := activeLicense("HL-11111111-22222222-33333333")
	attacker.ID = "lic-attacker"
	attacker.Email = "attacker@example.com"
	env.seed(t, attacker)

	// Claiming an email without presenting any license key is rejected
	// before it reaches the service.
	rec := env.do(t, http.MethodPut, "/api/license/personality", map[string]string{
		"email":       "owner@example.com",
		"personality": "atlas",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// A valid key owned by someone else must not move the victim's
	// personality either.
	rec = env.do(t, http.MethodPut, "/api/license/personality", map[string]string{
		"license_key": "HL-11111111-22222222-33333333",
		"email":       "owner@example.com",
		"personality": "atlas",
	}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	victim, err := env.store.GetByKey(context.Background(), "HL-AAAAAAAA-BBBBBBBB-CCCCCCCC")
	require.NoError(t, err)
	assert.Equal(t, license.PersonalityNova, victim.Personality)
}

func signWebhook(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func webhookPayload(eventName, subscriptionID, email string) []byte {
	payload := map[string]interface{}{
		"meta": map[string]interface{}{"event_name": eventName},
		"data": map[string]interface{}{
			"id":   subscriptionID,
			"type": "subscriptions",
			"attributes": map[string]interface{}{
				"user_email":   email,
				"variant_name": "spark",
				"status":       "active",
			},
		},
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	payload := webhookPayload("subscription_created", "sub-1", "buyer@example.com")

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, "deadbeef")

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookCreatesLicense(t *testing.T) {
	env := newTestEnv(t)
	payload := webhookPayload("subscription_created", "sub-42", "buyer@example.com")

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signWebhook(payload))

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["received"])

	l, err := env.store.GetBySubscription(context.Background(), "sub-42")
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", l.Email)
	assert.Equal(t, license.PersonalitySpark, l.Personality)
	assert.True(t, license.ValidKeyFormat(l.Key))
}

func TestAdminCreateAndLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/admin/licenses", map[string]string{
		"email": "vip@example.com",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	created := decodeBody(t, rec)
	id, ok := created["id"].(string)
	require.True(t, ok)
	assert.Equal(t, "nova", created["personality"])

	rec = env.do(t, http.MethodPost, "/api/admin/licenses/"+id+"/suspend", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "suspended", decodeBody(t, rec)["status"])

	// Suspending twice is a lifecycle conflict.
	rec = env.do(t, http.MethodPost, "/api/admin/licenses/"+id+"/suspend", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/admin/licenses/"+id+"/revoke", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "revoked", decodeBody(t, rec)["status"])
}

func TestAdminCreateRejectsBadPersonality(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/admin/licenses", map[string]string{
		"email":       "vip@example.com",
		"personality": "pirate",
	}, nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminListAndStats(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, activeLicense("HL-AAAAAAAA-BBBBBBBB-CCCCCCCC"))

	suspended := activeLicense("HL-11111111-22222222-33333333")
	suspended.ID = "lic-suspended"
	suspended.Status = license.StatusSuspended
	env.seed(t, suspended)

	rec := env.do(t, http.MethodGet, "/api/admin/licenses", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/api/admin/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody(t, rec)
	assert.Equal(t, float64(2), stats["total_licenses"])
	assert.Equal(t, float64(1), stats["active_licenses"])
	assert.Equal(t, float64(1), stats["suspended_licenses"])
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health/", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	rec = env.do(t, http.MethodGet, "/health/ready", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
