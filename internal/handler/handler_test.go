package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/templui/pledge/internal/apperr"
	"github.com/templui/pledge/internal/ctxkeys"
	"github.com/templui/pledge/internal/db"
	"github.com/templui/pledge/internal/model"
	"github.com/templui/pledge/internal/repository"
	"github.com/templui/pledge/internal/service"
	"github.com/templui/pledge/internal/service/payment"
)

// fakeGateway answers charges and events from fixed values.
type fakeGateway struct {
	mu          sync.Mutex
	charge      *payment.Charge
	chargeErr   error
	chargeCalls []payment.ChargeParams
	event       *payment.Event
	parseErr    error
}

func (g *fakeGateway) CreateCustomer(context.Context, payment.CustomerParams) (string, error) {
	return "cus_new", nil
}

func (g *fakeGateway) CreateSetupSession(_ context.Context, params payment.SetupSessionParams) (*payment.SetupSession, error) {
	return &payment.SetupSession{ID: "cs_test_" + params.CustomerID, URL: "https://checkout.test/cs"}, nil
}

func (g *fakeGateway) ResolveSetupSession(context.Context, string) (*payment.SetupResult, error) {
	return nil, errors.New("not available")
}

func (g *fakeGateway) HasSavedPaymentMethods(context.Context, string) (bool, error) {
	return false, nil
}

func (g *fakeGateway) Charge(_ context.Context, params payment.ChargeParams) (*payment.Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.chargeCalls = append(g.chargeCalls, params)
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	return g.charge, nil
}

func (g *fakeGateway) ParseEvent(payload []byte, _ string) (*payment.Event, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	event := *g.event
	event.Payload = payload
	return &event, nil
}

func (g *fakeGateway) Name() string { return "fake" }

type testServer struct {
	db       *sqlx.DB
	users    repository.UserRepository
	gateway  *fakeGateway
	goals    *GoalHandler
	billing  *BillingHandler
	cron     *CronHandler
	dupes    *DuplicatesHandler
	health   *HealthHandler
	goalRepo repository.GoalRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "handler.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	database, err := db.Init("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })
	require.NoError(t, db.RunMigrations(database.DB, "sqlite"))

	users := repository.NewUserRepository(database)
	goals := repository.NewGoalRepository(database)
	updates := repository.NewGoalUpdateRepository(database)
	payments := repository.NewPaymentRepository(database)
	notifications := repository.NewNotificationRepository(database)
	events := repository.NewWebhookEventRepository(database)
	gateway := &fakeGateway{}

	notifier := service.NewNotificationService(notifications, users, nil)
	goalSvc := service.NewGoalService(goals, updates, users, notifier)
	setup := service.NewSetupService(goals, updates, users, gateway, goalSvc, "https://pledge.test")
	capture := service.NewCaptureService(gateway, "usd")
	settlement := service.NewSettlementService(goals, payments, users, goalSvc, capture, notifier, nil, "usd", 3)
	webhooks := service.NewWebhookService(events, goals, gateway, setup, goalSvc, settlement, notifier, nil)
	reminders := service.NewReminderService(goals, updates, notifier)
	retention := service.NewRetentionService(notifications, updates, 30*24*time.Hour, 90*24*time.Hour)

	return &testServer{
		db:       database,
		users:    users,
		gateway:  gateway,
		goals:    NewGoalHandler(goalSvc, setup),
		billing:  NewBillingHandler(setup, capture, webhooks),
		cron:     NewCronHandler(settlement, reminders, retention),
		dupes:    NewDuplicatesHandler(service.NewDedupService(goals)),
		health:   NewHealthHandler(database),
		goalRepo: goals,
	}
}

func (s *testServer) seedUser(t *testing.T, id string) *model.User {
	t.Helper()
	user := &model.User{ID: id, Email: id + "@example.com", Name: id}
	require.NoError(t, s.users.Upsert(context.Background(), user))
	return user
}

func request(method, target string, body any, user *model.User) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if body != nil {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(body)
		req = httptest.NewRequest(method, target, &buf)
	}
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req = req.WithContext(ctxkeys.WithUser(req.Context(), user))
	}
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func goalBody(title string) map[string]any {
	return map[string]any{
		"title":        title,
		"deadline":     time.Now().Add(72 * time.Hour).UnixMilli(),
		"pledgeAmount": 25,
		"isPublic":     true,
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"validation", apperr.Invalid("title", "Goal title cannot be empty"), http.StatusBadRequest, "Goal title cannot be empty"},
		{"signature", fmt.Errorf("bad: %w", apperr.ErrSignature), http.StatusBadRequest, "Invalid signature"},
		{"not found", fmt.Errorf("goal not found: %w", apperr.ErrNotFound), http.StatusNotFound, "goal not found"},
		{"unauthorized", apperr.ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
		{"forbidden", apperr.Forbidden("not yours"), http.StatusForbidden, "not yours"},
		{"conflict", apperr.Conflict("already done"), http.StatusConflict, "already done"},
		{"gateway", &apperr.GatewayError{Kind: apperr.GatewayTransport, Message: "timeout"}, http.StatusBadGateway, "Payment provider request failed"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.message, message)
		})
	}
}

func TestCreatePendingGoal(t *testing.T) {
	s := newTestServer(t)
	user := s.seedUser(t, "u1")

	rec := httptest.NewRecorder()
	s.goals.CreatePending(rec, request(http.MethodPost, "/api/goals/pending", goalBody("Run a marathon"), user))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody(t, rec)
	assert.NotEmpty(t, first["goalId"])
	assert.Equal(t, false, first["alreadyExists"])

	// Same owner, title and deadline resolves to the first goal
	body := goalBody("Run a marathon")
	goal, err := s.goalRepo.ByID(context.Background(), first["goalId"].(string))
	require.NoError(t, err)
	body["deadline"] = goal.Deadline.UnixMilli()

	rec = httptest.NewRecorder()
	s.goals.CreatePending(rec, request(http.MethodPost, "/api/goals/pending", body, user))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decodeBody(t, rec)
	assert.Equal(t, first["goalId"], second["goalId"])
	assert.Equal(t, true, second["alreadyExists"])
	assert.Equal(t, model.GoalStatusPending, goal.Status)
}

func TestCreatePendingGoalForeignSession(t *testing.T) {
	s := newTestServer(t)
	owner := s.seedUser(t, "u1")
	other := s.seedUser(t, "u2")

	body := goalBody("Learn Go")
	body["externalSessionId"] = "cs_shared"

	rec := httptest.NewRecorder()
	s.goals.CreatePending(rec, request(http.MethodPost, "/api/goals/pending", body, owner))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	s.goals.CreatePending(rec, request(http.MethodPost, "/api/goals/pending", body, other))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Session belongs to another user", decodeBody(t, rec)["error"])
}

func TestCreateGoalRejections(t *testing.T) {
	s := newTestServer(t)
	user := s.seedUser(t, "u1")

	lowPledge := goalBody("Cheap goal")
	lowPledge["pledgeAmount"] = 0.25
	otherOwner := goalBody("Someone else")
	otherOwner["ownerId"] = "u2"
	noDeadline := goalBody("Whenever")
	delete(noDeadline, "deadline")

	tests := []struct {
		name   string
		body   any
		status int
		errMsg string
	}{
		{"pledge below minimum", lowPledge, http.StatusBadRequest, "Pledge amount must be at least $0.50"},
		{"owner mismatch", otherOwner, http.StatusForbidden, "Unauthorized: ownerId does not match the authenticated user"},
		{"missing deadline", noDeadline, http.StatusBadRequest, "deadline is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.goals.Create(rec, request(http.MethodPost, "/api/goals", tt.body, user))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.errMsg, decodeBody(t, rec)["error"])
		})
	}

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/goals", bytes.NewBufferString("{"))
		req = req.WithContext(ctxkeys.WithUser(req.Context(), user))
		rec := httptest.NewRecorder()
		s.goals.Create(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid JSON body", decodeBody(t, rec)["error"])
	})
}

func TestGoalRoutesRequireUser(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.goals.List(rec, request(http.MethodGet, "/api/goals", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
}

func TestCompleteAndCancel(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	owner := s.seedUser(t, "u1")
	other := s.seedUser(t, "u2")

	create := func(title string) string {
		t.Helper()
		rec := httptest.NewRecorder()
		s.goals.CreatePending(rec, request(http.MethodPost, "/api/goals/pending", goalBody(title), owner))
		require.Equal(t, http.StatusCreated, rec.Code)
		id := decodeBody(t, rec)["goalId"].(string)
		ok, err := s.goalRepo.CompleteSetup(ctx, id, "pm_1", time.Now())
		require.NoError(t, err)
		require.True(t, ok)
		return id
	}

	done := create("Finish the book")

	req := request(http.MethodPost, "/api/goals/"+done+"/complete", nil, other)
	req.SetPathValue("id", done)
	rec := httptest.NewRecorder()
	s.goals.Complete(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = request(http.MethodPost, "/api/goals/"+done+"/complete", nil, owner)
	req.SetPathValue("id", done)
	rec = httptest.NewRecorder()
	s.goals.Complete(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.GoalStatusCompleted, decodeBody(t, rec)["status"])

	req = request(http.MethodPost, "/api/goals/"+done+"/complete", nil, owner)
	req.SetPathValue("id", done)
	rec = httptest.NewRecorder()
	s.goals.Complete(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	dropped := create("Learn the banjo")
	req = request(http.MethodPost, "/api/goals/"+dropped+"/cancel", nil, owner)
	req.SetPathValue("id", dropped)
	rec = httptest.NewRecorder()
	s.goals.Cancel(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req = request(http.MethodGet, "/api/goals/"+dropped+"/updates", nil, owner)
	req.SetPathValue("id", dropped)
	rec = httptest.NewRecorder()
	s.goals.Updates(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	updates := decodeBody(t, rec)["updates"].([]any)
	assert.Len(t, updates, 2)

	req = request(http.MethodPost, "/api/goals/missing/cancel", nil, owner)
	req.SetPathValue("id", "missing")
	rec = httptest.NewRecorder()
	s.goals.Cancel(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.goals.List(rec, request(http.MethodGet, "/api/goals?status=cancelled", nil, owner))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["goals"].([]any), 1)

	rec = httptest.NewRecorder()
	s.goals.Stats(rec, request(http.MethodGet, "/api/stats", nil, owner))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["totalGoalsCreated"])
}

func TestPublicFeed(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.goals.Public(rec, request(http.MethodGet, "/api/goals/public", nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"goals":[],"nextCursor":null,"nextCursorId":null}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.goals.Public(rec, request(http.MethodGet, "/api/goals/public?limit=abc", nil, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "limit must be a non-negative integer", decodeBody(t, rec)["error"])
}

func TestSetupSession(t *testing.T) {
	s := newTestServer(t)
	user := s.seedUser(t, "u1")

	rec := httptest.NewRecorder()
	s.billing.SetupSession(rec, request(http.MethodPost, "/api/stripe/setup-session", map[string]any{"amount": "25.00"}, user))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"sessionHandle":"cs_test_cus_new","redirectUrl":"https://checkout.test/cs","hasSavedPaymentMethod":false,"customerHandle":"cus_new"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.billing.SetupSession(rec, request(http.MethodPost, "/api/stripe/setup-session", map[string]any{"amount": "25.00", "ownerId": "u9"}, user))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestChargePaymentMethod(t *testing.T) {
	s := newTestServer(t)
	s.gateway.charge = &payment.Charge{PaymentIntentID: "pi_1", Status: "succeeded", AmountMinor: 2550, Currency: "usd"}

	rec := httptest.NewRecorder()
	s.billing.ChargePaymentMethod(rec, request(http.MethodPost, "/api/stripe/charge-payment-method", map[string]any{
		"paymentMethodId": "pm_1",
		"amount":          25.50,
		"customerId":      "cus_1",
		"goalId":          "g1",
	}, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"chargeHandle":"pi_1","paymentIntentId":"pi_1","status":"succeeded","amount":2550}`, rec.Body.String())
	require.Len(t, s.gateway.chargeCalls, 1)
	assert.Equal(t, "goal-charge-g1", s.gateway.chargeCalls[0].IdempotencyKey)
	assert.Equal(t, int64(2550), s.gateway.chargeCalls[0].AmountMinor)

	rec = httptest.NewRecorder()
	s.billing.ChargePaymentMethod(rec, request(http.MethodPost, "/api/stripe/charge-payment-method", map[string]any{
		"paymentMethodId": "pm_1",
		"amount":          0.49,
		"customerId":      "cus_1",
	}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, s.gateway.chargeCalls, 1)

	rec = httptest.NewRecorder()
	s.billing.ChargePaymentMethod(rec, request(http.MethodPost, "/api/stripe/charge-payment-method", map[string]any{
		"amount":     10,
		"customerId": "cus_1",
	}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "paymentMethodId is required", decodeBody(t, rec)["error"])

	s.gateway.chargeErr = &apperr.GatewayError{Kind: apperr.GatewayDeclined, Code: "card_declined", Message: "Your card was declined."}
	rec = httptest.NewRecorder()
	s.billing.ChargePaymentMethod(rec, request(http.MethodPost, "/api/stripe/charge-payment-method", map[string]any{
		"paymentMethodId": "pm_1",
		"amount":          10,
		"customerId":      "cus_1",
	}, nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to charge payment method"}`, rec.Body.String())
}

func TestWebhook(t *testing.T) {
	s := newTestServer(t)

	post := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{"id":"evt_1"}`))
		if signature != "" {
			req.Header.Set("Stripe-Signature", signature)
		}
		rec := httptest.NewRecorder()
		s.billing.Webhook(rec, req)
		return rec
	}

	rec := post("")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing stripe-signature header", decodeBody(t, rec)["error"])

	s.gateway.parseErr = fmt.Errorf("no signatures found: %w", apperr.ErrSignature)
	rec = post("t=1,v1=bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid signature", decodeBody(t, rec)["error"])

	s.gateway.parseErr = nil
	s.gateway.event = &payment.Event{ID: "evt_1", Type: "customer.created", Data: payment.UnknownEvent{}}
	rec = post("t=1,v1=good")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	// Redelivery of a processed event is acknowledged again
	rec = post("t=1,v1=good")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCronEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.cron.ProcessExpiredGoals(rec, request(http.MethodPost, "/cron/process-expired-goals", nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(0), body["processedCount"])
	assert.Equal(t, float64(0), body["errorCount"])

	rec = httptest.NewRecorder()
	s.cron.SendReminders(rec, request(http.MethodPost, "/cron/send-reminders", nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"remindersSent":0,"errorCount":0,"totalGoalsChecked":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.cron.Cleanup(rec, request(http.MethodPost, "/cron/cleanup", nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"notificationsDeleted":0,"goalUpdatesDeleted":0}`, rec.Body.String())
}

func TestDuplicates(t *testing.T) {
	s := newTestServer(t)
	s.seedUser(t, "u1")

	rec := httptest.NewRecorder()
	s.dupes.List(rec, request(http.MethodGet, "/internal/duplicates", nil, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	s.dupes.List(rec, request(http.MethodGet, "/internal/duplicates?userId=u1", nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"duplicates":[],"count":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.dupes.Cleanup(rec, request(http.MethodPost, "/internal/duplicates/cleanup", map[string]string{"userId": "u1"}, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"deletedCount":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	s.dupes.Cleanup(rec, request(http.MethodPost, "/internal/duplicates/cleanup", map[string]string{}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "userId is required", decodeBody(t, rec)["error"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.health.Health(rec, request(http.MethodGet, "/health", nil, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Greater(t, body["timestamp"].(float64), float64(0))

	require.NoError(t, db.Close(s.db))
	rec = httptest.NewRecorder()
	s.health.Health(rec, request(http.MethodGet, "/health", nil, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
