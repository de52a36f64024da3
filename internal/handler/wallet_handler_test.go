package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	internalmiddleware "github.com/noah-isme/tutor-core-api/internal/middleware"
	"github.com/noah-isme/tutor-core-api/internal/models"
)

type statementWalletStub struct {
	integrationMocks
	txns []models.WalletTransaction
}

func (s *statementWalletStub) ListTransactions(ctx context.Context, actor models.Actor, teacherID string, query dto.WalletTransactionQuery) ([]models.WalletTransaction, *models.Pagination, error) {
	return s.txns, &models.Pagination{Page: 1, PageSize: 50, TotalCount: len(s.txns)}, nil
}

func newWalletRouter(svc walletService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})
		c.Next()
	})
	h := NewWalletHandler(svc)
	router.GET("/teachers/:teacherId/wallet/transactions", h.Transactions)
	return router
}

func TestWalletTransactionsCSVStatement(t *testing.T) {
	booking := "r1"
	stub := &statementWalletStub{txns: []models.WalletTransaction{{
		ID:          "w-1",
		WalletID:    "wallet-1",
		Type:        models.TransactionTypeSessionEarning,
		Amount:      decimal.RequireFromString("40"),
		BookingID:   &booking,
		Description: "session earning",
		CreatedAt:   time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC),
	}}}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/teachers/t1/wallet/transactions?format=csv", nil)
	newWalletRouter(stub).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "wallet-t1.csv")
	assert.Equal(t,
		"id,created_at,type,amount,booking_id,payment_id,description\n"+
			"w-1,2024-01-08T10:00:00Z,SESSION_EARNING,40.00,r1,,session earning\n",
		w.Body.String())
}

func TestWalletTransactionsRejectsUnknownFormat(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/teachers/t1/wallet/transactions?format=xml", nil)
	newWalletRouter(&statementWalletStub{}).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
