package routes

import (
	"fmt"
	"net/http"

	"github.com/templui/pledge/internal/app"
	"github.com/templui/pledge/internal/handler"
	"github.com/templui/pledge/internal/middleware"
)

func SetupRoutes(app *app.App) (http.Handler, error) {
	// Handlers
	health := handler.NewHealthHandler(app.DB)
	goal := handler.NewGoalHandler(app.GoalService, app.SetupService)
	billing := handler.NewBillingHandler(app.SetupService, app.CaptureService, app.WebhookService)
	cron := handler.NewCronHandler(app.SettlementService, app.ReminderService, app.RetentionService)
	duplicates := handler.NewDuplicatesHandler(app.DedupService)

	// Limiters
	publicLimiter, err := middleware.NewLimiter(app.Cfg.PublicRateLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid public rate limit %q: %w", app.Cfg.PublicRateLimit, err)
	}
	webhookLimiter, err := middleware.NewLimiter(app.Cfg.WebhookRateLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook rate limit %q: %w", app.Cfg.WebhookRateLimit, err)
	}

	user := middleware.Identity(app.Cfg.AuthJWTSecret, app.UserService)
	internal := middleware.RequireBearer(app.Cfg.InternalAPIKey)
	cronAuth := middleware.RequireBearer(app.Cfg.CronSecret)
	public := middleware.RateLimit(publicLimiter)

	mux := http.NewServeMux()

	// ============================================================================
	// PUBLIC ROUTES
	// ============================================================================

	mux.HandleFunc("GET /health", health.Health)
	mux.Handle("GET /api/goals/public", public(http.HandlerFunc(goal.Public)))

	// ============================================================================
	// USER ROUTES (/api/*, identity token)
	// ============================================================================

	// Goals
	mux.Handle("POST /api/goals/pending", user(http.HandlerFunc(goal.CreatePending)))
	mux.Handle("POST /api/goals", user(http.HandlerFunc(goal.Create)))
	mux.Handle("GET /api/goals", user(http.HandlerFunc(goal.List)))
	mux.Handle("POST /api/goals/{id}/complete", user(http.HandlerFunc(goal.Complete)))
	mux.Handle("POST /api/goals/{id}/cancel", user(http.HandlerFunc(goal.Cancel)))
	mux.Handle("GET /api/goals/{id}/updates", user(http.HandlerFunc(goal.Updates)))
	mux.Handle("GET /api/stats", user(http.HandlerFunc(goal.Stats)))

	// Payment setup
	mux.Handle("POST /api/stripe/setup-session", user(http.HandlerFunc(billing.SetupSession)))
	mux.Handle("POST /api/stripe/update-payment-method", user(http.HandlerFunc(billing.UpdatePaymentMethod)))
	mux.Handle("POST /api/stripe/complete-goal", user(http.HandlerFunc(billing.CompleteGoal)))

	// ============================================================================
	// INTERNAL ROUTES (shared bearer secrets)
	// ============================================================================

	mux.Handle("POST /api/stripe/charge-payment-method", internal(http.HandlerFunc(billing.ChargePaymentMethod)))
	mux.Handle("GET /internal/duplicates", internal(http.HandlerFunc(duplicates.List)))
	mux.Handle("POST /internal/duplicates/cleanup", internal(http.HandlerFunc(duplicates.Cleanup)))

	// Cron
	mux.Handle("POST /cron/process-expired-goals", cronAuth(http.HandlerFunc(cron.ProcessExpiredGoals)))
	mux.Handle("POST /cron/send-reminders", cronAuth(http.HandlerFunc(cron.SendReminders)))
	mux.Handle("POST /cron/cleanup", cronAuth(http.HandlerFunc(cron.Cleanup)))

	// ============================================================================
	// WEBHOOKS
	// ============================================================================

	mux.Handle("POST /webhooks/stripe", middleware.RateLimit(webhookLimiter)(http.HandlerFunc(billing.Webhook)))

	// Global middleware - executed in order (top to bottom)
	handler := middleware.Chain(
		mux,
		middleware.RequestID, // Must run before logging so the id is logged
		middleware.RequestLogging,
	)

	return handler, nil
}
