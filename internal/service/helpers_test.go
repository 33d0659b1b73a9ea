package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/templui/pledge/internal/db"
	"github.com/templui/pledge/internal/model"
	"github.com/templui/pledge/internal/repository"
	"github.com/templui/pledge/internal/service/payment"
)

// MockGateway is a testify mock of payment.Gateway.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCustomer(ctx context.Context, params payment.CustomerParams) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) CreateSetupSession(ctx context.Context, params payment.SetupSessionParams) (*payment.SetupSession, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.SetupSession), args.Error(1)
}

func (m *MockGateway) ResolveSetupSession(ctx context.Context, sessionID string) (*payment.SetupResult, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.SetupResult), args.Error(1)
}

func (m *MockGateway) HasSavedPaymentMethods(ctx context.Context, customerID string) (bool, error) {
	args := m.Called(ctx, customerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockGateway) Charge(ctx context.Context, params payment.ChargeParams) (*payment.Charge, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Charge), args.Error(1)
}

func (m *MockGateway) ParseEvent(payload []byte, signature string) (*payment.Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Event), args.Error(1)
}

func (m *MockGateway) Name() string {
	return "mock"
}

// recordingNotifier keeps every notice it is given.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(_ context.Context, notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) count(noticeType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, notice := range n.notices {
		if notice.Type == noticeType {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

// memArchive is an in-memory Archive.
type memArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *memArchive) PutJSON(_ context.Context, key string, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type testEnv struct {
	db            *sqlx.DB
	users         repository.UserRepository
	goals         repository.GoalRepository
	updates       repository.GoalUpdateRepository
	payments      repository.PaymentRepository
	notifications repository.NotificationRepository
	events        repository.WebhookEventRepository

	gateway  *MockGateway
	notifier *recordingNotifier
	archive  *memArchive
	clock    *testClock

	goalSvc    *GoalService
	setup      *SetupService
	capture    *CaptureService
	settlement *SettlementService
	webhooks   *WebhookService
	reminders  *ReminderService
	retention  *RetentionService
	dedup      *DedupService
}

var testStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	database, err := db.Init("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(database) })
	require.NoError(t, db.RunMigrations(database.DB, "sqlite"))

	env := &testEnv{
		db:            database,
		users:         repository.NewUserRepository(database),
		goals:         repository.NewGoalRepository(database),
		updates:       repository.NewGoalUpdateRepository(database),
		payments:      repository.NewPaymentRepository(database),
		notifications: repository.NewNotificationRepository(database),
		events:        repository.NewWebhookEventRepository(database),
		gateway:       &MockGateway{},
		notifier:      &recordingNotifier{},
		archive:       &memArchive{},
		clock:         &testClock{t: testStart},
	}

	env.goalSvc = NewGoalService(env.goals, env.updates, env.users, env.notifier)
	env.goalSvc.now = env.clock.Now
	env.setup = NewSetupService(env.goals, env.updates, env.users, env.gateway, env.goalSvc, "https://pledge.test")
	env.setup.now = env.clock.Now
	env.capture = NewCaptureService(env.gateway, "usd")
	env.settlement = NewSettlementService(env.goals, env.payments, env.users, env.goalSvc, env.capture, env.notifier, env.archive, "usd", 3)
	env.settlement.now = env.clock.Now
	env.webhooks = NewWebhookService(env.events, env.goals, env.gateway, env.setup, env.goalSvc, env.settlement, env.notifier, env.archive)
	env.webhooks.now = env.clock.Now
	env.reminders = NewReminderService(env.goals, env.updates, env.notifier)
	env.reminders.now = env.clock.Now
	env.retention = NewRetentionService(env.notifications, env.updates, 30*24*time.Hour, 90*24*time.Hour)
	env.retention.now = env.clock.Now
	env.dedup = NewDedupService(env.goals)

	return env
}

func (e *testEnv) seedUser(t *testing.T, id string, customerID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.users.Upsert(ctx, &model.User{ID: id, Email: id + "@example.com", Name: id}))
	if customerID != "" {
		ok, err := e.users.SetStripeCustomerID(ctx, id, customerID)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

// createGoal creates an active or pending goal through GoalService.
func (e *testEnv) createGoal(t *testing.T, ownerID, title string, deadline time.Time, status string) string {
	t.Helper()
	res, err := e.goalSvc.CreateGoal(context.Background(), CreateGoalInput{
		OwnerID:       ownerID,
		Title:         title,
		Deadline:      deadline,
		PledgeAmount:  decimal.NewFromInt(25),
		IsPublic:      true,
		InitialStatus: status,
	})
	require.NoError(t, err)
	require.False(t, res.AlreadyExists)
	return res.GoalID
}

// activeGoalWithCard creates a pending goal and completes its setup.
func (e *testEnv) activeGoalWithCard(t *testing.T, ownerID, title string, deadline time.Time) string {
	t.Helper()
	id := e.createGoal(t, ownerID, title, deadline, model.GoalStatusPending)
	applied, err := e.setup.CompleteSetup(context.Background(), id, "pm_"+ownerID)
	require.NoError(t, err)
	require.True(t, applied)
	return id
}

func (e *testEnv) goal(t *testing.T, id string) *model.Goal {
	t.Helper()
	g, err := e.goals.ByID(context.Background(), id)
	require.NoError(t, err)
	return g
}
