package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-core-api/internal/dto"
	"github.com/noah-isme/tutor-core-api/internal/models"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
	"github.com/noah-isme/tutor-core-api/pkg/export"
	"github.com/noah-isme/tutor-core-api/pkg/response"
)

type walletService interface {
	GetWallet(ctx context.Context, actor models.Actor, teacherID string) (*models.Wallet, error)
	ListTransactions(ctx context.Context, actor models.Actor, teacherID string, query dto.WalletTransactionQuery) ([]models.WalletTransaction, *models.Pagination, error)
	Debit(ctx context.Context, actor models.Actor, teacherID string, req dto.DebitWalletRequest) (*models.WalletTransaction, error)
	CreditWallet(ctx context.Context, req dto.CreditWalletRequest) (*models.CreditOutcome, error)
	Reconcile(ctx context.Context, walletID string) (*models.ReconcileResult, error)
	ReconcileAll(ctx context.Context) (*dto.ReconcileSummary, error)
}

// WalletHandler exposes teacher wallets and ledger maintenance.
type WalletHandler struct {
	service walletService
}

// NewWalletHandler constructs the handler.
func NewWalletHandler(service walletService) *WalletHandler {
	return &WalletHandler{service: service}
}

// Get godoc
// @Summary Wallet of a teacher
// @Tags Wallets
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Router /teachers/{teacherId}/wallet [get]
func (h *WalletHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	wallet, err := h.service.GetWallet(c.Request.Context(), actor, c.Param("teacherId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, wallet, nil)
}

// Transactions godoc
// @Summary Ledger entries of a teacher wallet
// @Tags Wallets
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Param format query string false "json or csv"
// @Success 200 {object} response.Envelope
// @Router /teachers/{teacherId}/wallet/transactions [get]
func (h *WalletHandler) Transactions(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var query dto.WalletTransactionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query parameters"))
		return
	}
	txns, pagination, err := h.service.ListTransactions(c.Request.Context(), actor, c.Param("teacherId"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	if query.Format == "csv" {
		h.writeStatement(c, c.Param("teacherId"), txns)
		return
	}
	response.JSON(c, http.StatusOK, txns, pagination)
}

var statementHeaders = []string{"id", "created_at", "type", "amount", "booking_id", "payment_id", "description"}

func (h *WalletHandler) writeStatement(c *gin.Context, teacherID string, txns []models.WalletTransaction) {
	table := export.Table{Headers: statementHeaders, Rows: make([][]string, 0, len(txns))}
	for _, txn := range txns {
		table.Rows = append(table.Rows, []string{
			txn.ID,
			txn.CreatedAt.UTC().Format(time.RFC3339),
			string(txn.Type),
			txn.Amount.StringFixed(2),
			derefString(txn.BookingID),
			derefString(txn.PaymentID),
			txn.Description,
		})
	}
	response.Attachment(c, fmt.Sprintf("wallet-%s.csv", teacherID), "text/csv; charset=utf-8", func(w io.Writer) error {
		return export.WriteCSV(w, table)
	})
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// Debit godoc
// @Summary Withdraw from a teacher wallet
// @Tags Wallets
// @Accept json
// @Produce json
// @Param teacherId path string true "Teacher ID"
// @Param payload body dto.DebitWalletRequest true "Debit"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /admin/teachers/{teacherId}/wallet/debits [post]
func (h *WalletHandler) Debit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.DebitWalletRequest
	if !bindJSON(c, &req, "invalid debit payload") {
		return
	}
	txn, err := h.service.Debit(c.Request.Context(), actor, c.Param("teacherId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if txn == nil {
		response.JSON(c, http.StatusOK, gin.H{"duplicate": true}, nil)
		return
	}
	response.Created(c, txn)
}

// Credit godoc
// @Summary Credit a teacher for a monetised booking or payment
// @Tags Wallets
// @Accept json
// @Produce json
// @Param payload body dto.CreditWalletRequest true "Credit"
// @Success 200 {object} response.Envelope
// @Router /admin/wallets/credits [post]
func (h *WalletHandler) Credit(c *gin.Context) {
	var req dto.CreditWalletRequest
	if !bindJSON(c, &req, "invalid credit payload") {
		return
	}
	outcome, err := h.service.CreditWallet(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// Reconcile godoc
// @Summary Re-derive a wallet's cached balance from its ledger
// @Tags Wallets
// @Produce json
// @Param walletId path string true "Wallet ID"
// @Success 200 {object} response.Envelope
// @Router /admin/wallets/{walletId}/reconcile [post]
func (h *WalletHandler) Reconcile(c *gin.Context) {
	result, err := h.service.Reconcile(c.Request.Context(), c.Param("walletId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ReconcileAll godoc
// @Summary Reconcile every wallet
// @Tags Wallets
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/reconcile [post]
func (h *WalletHandler) ReconcileAll(c *gin.Context) {
	summary, err := h.service.ReconcileAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
