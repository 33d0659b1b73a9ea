package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/templui/pledge/internal/app"
	"github.com/templui/pledge/internal/config"
	"github.com/templui/pledge/internal/db"
	"github.com/templui/pledge/internal/service/payment"
)

type stubGateway struct{}

func (stubGateway) CreateCustomer(context.Context, payment.CustomerParams) (string, error) {
	return "cus_1", nil
}

func (stubGateway) CreateSetupSession(context.Context, payment.SetupSessionParams) (*payment.SetupSession, error) {
	return &payment.SetupSession{ID: "cs_1", URL: "https://checkout.test"}, nil
}

func (stubGateway) ResolveSetupSession(context.Context, string) (*payment.SetupResult, error) {
	return nil, errors.New("unavailable")
}

func (stubGateway) HasSavedPaymentMethods(context.Context, string) (bool, error) {
	return false, nil
}

func (stubGateway) Charge(context.Context, payment.ChargeParams) (*payment.Charge, error) {
	return &payment.Charge{PaymentIntentID: "pi_1", Status: "succeeded", AmountMinor: 1000}, nil
}

func (stubGateway) ParseEvent([]byte, string) (*payment.Event, error) {
	return &payment.Event{ID: "evt_1", Type: "customer.created", Data: payment.UnknownEvent{}}, nil
}

func (stubGateway) Name() string { return "stub" }

func newHandler(t *testing.T) http.Handler {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "routes.db") + "?_pragma=foreign_keys(1)"
	database, err := db.Init("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })
	require.NoError(t, db.RunMigrations(database.DB, "sqlite"))

	cfg := &config.Config{
		AppName:               "Pledge",
		AppEnv:                "development",
		AppURL:                "http://localhost:8090",
		InternalAPIKey:        "internal-key",
		CronSecret:            "cron-secret",
		AuthJWTSecret:         "jwt-secret",
		Currency:              "usd",
		SettlementMaxAttempts: 10,
		NotificationRetention: 30 * 24 * time.Hour,
		GoalUpdateRetention:   90 * 24 * time.Hour,
		PublicRateLimit:       "100-M",
		WebhookRateLimit:      "100-M",
	}

	h, err := SetupRoutes(app.Build(cfg, database, stubGateway{}, nil))
	require.NoError(t, err)
	return h
}

func serve(h http.Handler, method, target, auth, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if strings.HasPrefix(target, "/webhooks/") {
		req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouteAuth(t *testing.T) {
	h := newHandler(t)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "user_1",
		"email": "user_1@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("jwt-secret"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		target string
		auth   string
		body   string
		status int
	}{
		{"health is public", http.MethodGet, "/health", "", "", http.StatusOK},
		{"public feed", http.MethodGet, "/api/goals/public", "", "", http.StatusOK},
		{"goals need identity", http.MethodGet, "/api/goals", "", "", http.StatusUnauthorized},
		{"goals with identity", http.MethodGet, "/api/goals", "Bearer " + token, "", http.StatusOK},
		{"stats with identity", http.MethodGet, "/api/stats", "Bearer " + token, "", http.StatusOK},
		{"cron rejects internal key", http.MethodPost, "/cron/cleanup", "Bearer internal-key", "", http.StatusUnauthorized},
		{"cron with secret", http.MethodPost, "/cron/cleanup", "Bearer cron-secret", "", http.StatusOK},
		{"charge rejects identity token", http.MethodPost, "/api/stripe/charge-payment-method", "Bearer " + token, "{}", http.StatusUnauthorized},
		{"charge with internal key", http.MethodPost, "/api/stripe/charge-payment-method", "Bearer internal-key",
			`{"paymentMethodId":"pm_1","amount":10,"customerId":"cus_1"}`, http.StatusOK},
		{"duplicates with internal key", http.MethodGet, "/internal/duplicates?userId=user_1", "Bearer internal-key", "", http.StatusOK},
		{"webhook", http.MethodPost, "/webhooks/stripe", "", `{"id":"evt_1"}`, http.StatusOK},
		{"wrong method", http.MethodGet, "/cron/cleanup", "Bearer cron-secret", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.method, tt.target, tt.auth, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestSetupRoutesRejectsBadRate(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "routes.db")
	database, err := db.Init("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })

	cfg := &config.Config{PublicRateLimit: "fast", WebhookRateLimit: "100-M"}
	_, err = SetupRoutes(app.Build(cfg, database, stubGateway{}, nil))
	assert.Error(t, err)
}
