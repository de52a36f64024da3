package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-core-api/internal/middleware"
	"github.com/noah-isme/tutor-core-api/internal/models"
)

// Handlers groups every HTTP handler mounted by RegisterRoutes.
type Handlers struct {
	Availability  *AvailabilityHandler
	Subscriptions *SubscriptionHandler
	Reservations  *ReservationHandler
	Sessions      *SessionHandler
	Payments      *PaymentHandler
	Wallets       *WalletHandler
	Metrics       *MetricsHandler
}

var (
	anyUser      = middleware.Roles(models.RoleStudent, models.RoleTeacher, models.RoleAdmin, models.RoleSystem)
	teacherOrOps = middleware.Roles(models.RoleTeacher, models.RoleAdmin, models.RoleSystem)
	opsOnly      = middleware.Roles(models.RoleAdmin, models.RoleSystem)
	ownerOrOps   = opsOnly.OrOwner("teacherId")
)

// RegisterRoutes mounts the API on group. authn resolves the caller; the payment callback is
// authenticated by its signature instead.
func RegisterRoutes(group *gin.RouterGroup, h Handlers, authn gin.HandlerFunc) {
	group.POST("/payments/callback", h.Payments.Callback)
	group.GET("/teachers/:teacherId/availability", h.Availability.Availability)

	secured := group.Group("")
	secured.Use(authn)

	secured.GET("/teachers/:teacherId/windows", middleware.Authorize(anyUser), h.Availability.ListWindows)
	secured.POST("/teachers/:teacherId/windows", middleware.Authorize(teacherOrOps), h.Availability.CreateWindow)
	secured.PATCH("/windows/:id", middleware.Authorize(teacherOrOps), h.Availability.UpdateWindow)
	secured.DELETE("/windows/:id", middleware.Authorize(teacherOrOps), h.Availability.DisableWindow)

	secured.POST("/subscriptions", middleware.Authorize(anyUser), h.Subscriptions.Purchase)
	secured.GET("/subscriptions/:id", middleware.Authorize(anyUser), h.Subscriptions.Get)
	secured.POST("/subscriptions/:id/cancel", middleware.Authorize(anyUser), h.Subscriptions.Cancel)
	secured.POST("/subscriptions/:id/retry-payment", middleware.Authorize(anyUser), h.Subscriptions.RetryPayment)
	secured.GET("/students/:studentId/subscriptions", middleware.Authorize(anyUser), h.Subscriptions.ListByStudent)

	secured.POST("/reservations", middleware.Authorize(anyUser), h.Reservations.Book)
	secured.GET("/reservations/:id", middleware.Authorize(anyUser), h.Reservations.Get)
	secured.POST("/reservations/:id/confirm", middleware.Authorize(teacherOrOps), h.Reservations.Confirm)
	secured.POST("/reservations/:id/reject", middleware.Authorize(teacherOrOps), h.Reservations.Reject)
	secured.POST("/reservations/:id/cancel", middleware.Authorize(anyUser), h.Reservations.Cancel)
	secured.POST("/reservations/:id/complete", middleware.Authorize(opsOnly), h.Reservations.Complete)
	secured.GET("/teachers/:teacherId/reservations", middleware.Authorize(ownerOrOps), h.Reservations.ListByTeacher)
	secured.GET("/students/:studentId/reservations", middleware.Authorize(anyUser), h.Reservations.ListByStudent)

	secured.POST("/sessions/:reservationId/start", middleware.Authorize(teacherOrOps), h.Sessions.Start)
	secured.POST("/sessions/:reservationId/end", middleware.Authorize(teacherOrOps), h.Sessions.End)

	secured.GET("/teachers/:teacherId/wallet", middleware.Authorize(ownerOrOps), h.Wallets.Get)
	secured.GET("/teachers/:teacherId/wallet/transactions", middleware.Authorize(ownerOrOps), h.Wallets.Transactions)

	admin := secured.Group("/admin")
	admin.Use(middleware.Authorize(opsOnly))
	admin.POST("/teachers/:teacherId/wallet/debits", h.Wallets.Debit)
	admin.POST("/wallets/credits", h.Wallets.Credit)
	admin.POST("/wallets/:walletId/reconcile", h.Wallets.Reconcile)
	admin.POST("/reconcile", h.Wallets.ReconcileAll)
	admin.GET("/metrics", h.Metrics.Summary)
}
