// Package api exposes the point ledger over HTTP. Handlers parse requests
// into engine calls and wrap every reply in an Envelope.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/xraph/pointledger"
	"github.com/xraph/pointledger/id"
	"github.com/xraph/pointledger/plan"
	"github.com/xraph/pointledger/subscription"
	"github.com/xraph/pointledger/transaction"
	"github.com/xraph/pointledger/types"
)

// Ledger is the engine surface the handlers call.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (types.Points, error)
	ChargePoints(ctx context.Context, req pointledger.PurchaseRequest) (*transaction.Transaction, error)
	UsePoints(ctx context.Context, req pointledger.UseRequest) (*transaction.Transaction, error)
	RefundPoints(ctx context.Context, req pointledger.RefundRequest) (*transaction.Transaction, error)
	ListTransactions(ctx context.Context, userID string, opts transaction.ListOpts) ([]*transaction.Transaction, error)

	ActivateSubscription(ctx context.Context, userID string, planType plan.Type, autoRenewal bool) (*pointledger.Result, error)
	CancelSubscription(ctx context.Context, subID id.SubscriptionID, reason string) (*subscription.Subscription, error)
	ReactivateSubscription(ctx context.Context, subID id.SubscriptionID) (*pointledger.Result, error)
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error)
	ProcessAutoRenewals(ctx context.Context) (*pointledger.SweepResult, error)
	ProcessExpired(ctx context.Context) (*pointledger.SweepResult, error)

	Ping(ctx context.Context) error
}

var _ Ledger = (*pointledger.Ledger)(nil)

// Handler holds the ledger the handlers interact with.
type Handler struct {
	ledger Ledger
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(l Ledger, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{ledger: l, logger: logger}
}

type chargeRequest struct {
	UserID    string `json:"userId"`
	Amount    int64  `json:"amount"`
	PaymentID string `json:"paymentId"`
}

type useRequest struct {
	UserID      string `json:"userId"`
	Amount      int64  `json:"amount"`
	BookID      string `json:"bookId"`
	Description string `json:"description"`
}

type refundRequest struct {
	UserID    string `json:"userId"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
}

type activateRequest struct {
	UserID      string `json:"userId"`
	PlanType    string `json:"planType"`
	AutoRenewal *bool  `json:"autoRenewal"`
}

type cancelRequest struct {
	SubscriptionID string `json:"subscriptionId"`
	Reason         string `json:"reason"`
}

type balanceResponse struct {
	UserID  string       `json:"userId"`
	Balance types.Points `json:"balance"`
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return pointledger.ValidationError{Field: "body", Message: "malformed JSON: " + err.Error()}
	}
	return nil
}

func parseSubscriptionID(raw string) (id.SubscriptionID, error) {
	subID, err := id.ParseSubscriptionID(raw)
	if err != nil {
		return id.SubscriptionID{}, pointledger.ValidationError{Field: "subscriptionId", Message: err.Error()}
	}
	return subID, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, pointledger.ValidationError{Field: key, Message: "must be a non-negative integer"}
	}
	return n, nil
}

// ==================== Points ====================

func (h *Handler) handleCharge(w http.ResponseWriter, r *http.Request) {
	var req chargeRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.PaymentID == "" {
		req.PaymentID = uuid.NewString()
	}

	tx, err := h.ledger.ChargePoints(r.Context(), pointledger.PurchaseRequest{
		UserID:    req.UserID,
		Amount:    types.Points(req.Amount),
		PaymentID: req.PaymentID,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, "points charged", tx)
}

func (h *Handler) handleUse(w http.ResponseWriter, r *http.Request) {
	var req useRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	tx, err := h.ledger.UsePoints(r.Context(), pointledger.UseRequest{
		UserID:      req.UserID,
		Amount:      types.Points(req.Amount),
		BookID:      req.BookID,
		Description: req.Description,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, "points used", tx)
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	tx, err := h.ledger.RefundPoints(r.Context(), pointledger.RefundRequest{
		UserID:    req.UserID,
		Amount:    types.Points(req.Amount),
		Reason:    req.Reason,
		Reference: req.Reference,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, "points refunded", tx)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	balance, err := h.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, "", balanceResponse{UserID: userID, Balance: balance})
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	var opts transaction.ListOpts
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind, err := transaction.ParseKind(raw)
		if err != nil {
			h.respondError(w, r, pointledger.ValidationError{Field: "kind", Message: err.Error()})
			return
		}
		opts.Kind = kind
	}
	var err error
	if opts.Limit, err = queryInt(r, "limit"); err != nil {
		h.respondError(w, r, err)
		return
	}
	if opts.Offset, err = queryInt(r, "offset"); err != nil {
		h.respondError(w, r, err)
		return
	}

	txs, err := h.ledger.ListTransactions(r.Context(), chi.URLParam(r, "userId"), opts)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if txs == nil {
		txs = []*transaction.Transaction{}
	}
	respondOK(w, "", txs)
}

// ==================== Subscriptions ====================

// respondResult writes a subscription Result. Insufficient funds is a
// reported outcome, so it keeps a 200 status with success=false.
func respondResult(w http.ResponseWriter, res *pointledger.Result) {
	if res.Outcome == pointledger.OutcomeInsufficientFunds {
		respondJSON(w, http.StatusOK, Envelope{
			Success:   false,
			Message:   "insufficient points: required " + res.Required.String() + ", available " + res.Available.String(),
			ErrorType: pointledger.ErrorTypeInsufficientFunds,
			Data:      res,
		})
		return
	}
	respondOK(w, "subscription "+string(res.Outcome), res)
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	planType, err := plan.ParseType(req.PlanType)
	if err != nil {
		h.respondError(w, r, pointledger.ValidationError{Field: "planType", Message: err.Error()})
		return
	}
	autoRenewal := true
	if req.AutoRenewal != nil {
		autoRenewal = *req.AutoRenewal
	}

	res, err := h.ledger.ActivateSubscription(r.Context(), req.UserID, planType, autoRenewal)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondResult(w, res)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decode(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	subID, err := parseSubscriptionID(req.SubscriptionID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	sub, err := h.ledger.CancelSubscription(r.Context(), subID, req.Reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, "subscription canceled", sub)
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	subID, err := parseSubscriptionID(chi.URLParam(r, "subscriptionId"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	res, err := h.ledger.ReactivateSubscription(r.Context(), subID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondResult(w, res)
}

func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := parseSubscriptionID(chi.URLParam(r, "subscriptionId"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	sub, err := h.ledger.GetSubscription(r.Context(), subID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, "", sub)
}

func (h *Handler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	var opts subscription.ListOpts
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := subscription.ParseStatus(raw)
		if err != nil {
			h.respondError(w, r, pointledger.ValidationError{Field: "status", Message: err.Error()})
			return
		}
		opts.Status = status
	}
	var err error
	if opts.Limit, err = queryInt(r, "limit"); err != nil {
		h.respondError(w, r, err)
		return
	}
	if opts.Offset, err = queryInt(r, "offset"); err != nil {
		h.respondError(w, r, err)
		return
	}

	subs, err := h.ledger.ListSubscriptions(r.Context(), chi.URLParam(r, "userId"), opts)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if subs == nil {
		subs = []*subscription.Subscription{}
	}
	respondOK(w, "", subs)
}

func (h *Handler) handleProcessExpired(w http.ResponseWriter, r *http.Request) {
	res, err := h.ledger.ProcessExpired(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, "expiry sweep finished", res)
}

func (h *Handler) handleProcessAutoRenewal(w http.ResponseWriter, r *http.Request) {
	res, err := h.ledger.ProcessAutoRenewals(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, "auto-renewal sweep finished", res)
}

// ==================== Health ====================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, Envelope{
			Success:   false,
			Error:     "store unavailable",
			ErrorType: pointledger.ErrorTypeSystem,
		})
		return
	}
	respondOK(w, "healthy", nil)
}
