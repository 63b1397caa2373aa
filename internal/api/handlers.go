/**
 * @description
 * This file contains the HTTP handlers for the settlement-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/marketvine/settlement-service/internal/app"
	"github.com/marketvine/settlement-service/internal/domain"
	"github.com/marketvine/settlement-service/internal/store"
	"github.com/shopspring/decimal"
)

// SettlementHandlers holds the application service that handlers will use.
type SettlementHandlers struct {
	service *app.Service
}

// NewSettlementHandlers creates a new instance of SettlementHandlers.
func NewSettlementHandlers(service *app.Service) *SettlementHandlers {
	return &SettlementHandlers{service: service}
}

type updateFeeScheduleRequest struct {
	Percentage  decimal.Decimal `json:"percentage"`
	FixedAmount decimal.Decimal `json:"fixed_amount"`
}

type updateFeeScheduleResponse struct {
	Modality      string `json:"modality"`
	AffectedCount int64  `json:"affected_count"`
}

type blockTransactionRequest struct {
	Reason string `json:"reason"`
}

type anticipateTransactionRequest struct {
	Mode       string `json:"mode"`
	CustomDate string `json:"custom_date,omitempty"` // YYYY-MM-DD, required for mode 'custom'
}

type deletePayoutResponse struct {
	PayoutID      string `json:"payout_id"`
	RevertedCount int64  `json:"reverted_count"`
}

type sweepResponse struct {
	ReleasedCount int         `json:"released_count"`
	ReleasedIDs   []uuid.UUID `json:"released_ids"`
}

// CreateOrderSettlementHandler opens the ledger entry for a placed order.
// Internal, service-to-service endpoint; retries are safe because creation is
// idempotent on order id.
func (h *SettlementHandlers) CreateOrderSettlementHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOrderSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=create_order outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	tx, err := h.service.CreateForOrder(r.Context(), req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_order outcome=failed order_id=%s err=%v", req.OrderID, err)
		h.respondServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, tx)
}

// GetTransactionHandler returns a single ledger record.
func (h *SettlementHandlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseUUIDParam(w, r, "transactionID")
	if !ok {
		return
	}

	tx, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// ListSellerTransactionsHandler lists a seller's ledger with optional status,
// modality, and date-range filters.
func (h *SettlementHandlers) ListSellerTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := h.parseUUIDParam(w, r, "sellerID")
	if !ok {
		return
	}

	var filter domain.TransactionFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := domain.ParseTransactionStatus(raw)
		if !ok {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown status %q", raw))
			return
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("modality"); raw != "" {
		modality, ok := domain.ParseModality(raw)
		if !ok {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown modality %q", raw))
			return
		}
		filter.Modality = &modality
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid 'from' date; expected YYYY-MM-DD")
			return
		}
		filter.From = &from
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid 'to' date; expected YYYY-MM-DD")
			return
		}
		// Include the whole end day.
		end := to.AddDate(0, 0, 1).Add(-time.Nanosecond)
		filter.To = &end
	}

	transactions, err := h.service.ListSellerTransactions(r.Context(), sellerID, filter)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

// GetSellerSummaryHandler returns on-demand ledger aggregates for a seller.
func (h *SettlementHandlers) GetSellerSummaryHandler(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := h.parseUUIDParam(w, r, "sellerID")
	if !ok {
		return
	}

	summary, err := h.service.GetSellerLedgerSummary(r.Context(), sellerID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// GetFeeScheduleHandler returns the current default fee for a modality.
func (h *SettlementHandlers) GetFeeScheduleHandler(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.service.GetFeeSchedule(r.Context(), chi.URLParam(r, "modality"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, schedule)
}

// UpdateFeeScheduleHandler rewrites the effective fee for every seller under a
// modality. Admin only.
func (h *SettlementHandlers) UpdateFeeScheduleHandler(w http.ResponseWriter, r *http.Request) {
	modality := chi.URLParam(r, "modality")

	var req updateFeeScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	affected, err := h.service.UpdateFeeSchedule(r.Context(), modality, req.Percentage, req.FixedAmount)
	if err != nil {
		log.Printf("level=warn component=api endpoint=update_fee_schedule outcome=failed modality=%s err=%v", modality, err)
		h.respondServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, updateFeeScheduleResponse{Modality: modality, AffectedCount: affected})
}

// BlockTransactionHandler withholds a transaction from release and payout. Admin only.
func (h *SettlementHandlers) BlockTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseUUIDParam(w, r, "transactionID")
	if !ok {
		return
	}

	var req blockTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	tx, err := h.service.BlockTransaction(r.Context(), id, req.Reason)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// UnblockTransactionHandler clears a block. Admin only.
func (h *SettlementHandlers) UnblockTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseUUIDParam(w, r, "transactionID")
	if !ok {
		return
	}

	tx, err := h.service.UnblockTransaction(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// AnticipateTransactionHandler moves a transaction's effective release date
// earlier. Admin only.
func (h *SettlementHandlers) AnticipateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseUUIDParam(w, r, "transactionID")
	if !ok {
		return
	}

	var req anticipateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	var customDate *time.Time
	if req.CustomDate != "" {
		parsed, err := time.Parse("2006-01-02", req.CustomDate)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid custom_date; expected YYYY-MM-DD")
			return
		}
		customDate = &parsed
	}

	tx, err := h.service.AnticipateTransaction(r.Context(), id, domain.AnticipationMode(req.Mode), customDate)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// RevertAnticipationHandler clears an anticipation override. Admin only.
func (h *SettlementHandlers) RevertAnticipationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseUUIDParam(w, r, "transactionID")
	if !ok {
		return
	}

	tx, err := h.service.RevertAnticipation(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// CreatePayoutHandler batches released transactions into per-seller payouts. Admin only.
func (h *SettlementHandlers) CreatePayoutHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	payouts, err := h.service.CreatePayout(r.Context(), req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=create_payout outcome=failed selection=%d err=%v", len(req.TransactionIDs), err)
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, payouts)
}

// GetPayoutHandler returns one persisted payout with its member ids.
func (h *SettlementHandlers) GetPayoutHandler(w http.ResponseWriter, r *http.Request) {
	rawID := chi.URLParam(r, "payoutID")
	if domain.IsVirtualPayoutID(rawID) {
		h.respondServiceError(w, app.ErrNotARealPayout)
		return
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payout id")
		return
	}

	payout, err := h.service.GetPayout(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

// DeletePayoutHandler reverts a payout's members and removes the record. Admin only.
func (h *SettlementHandlers) DeletePayoutHandler(w http.ResponseWriter, r *http.Request) {
	rawID := chi.URLParam(r, "payoutID")

	reverted, err := h.service.DeletePayout(r.Context(), rawID)
	if err != nil {
		log.Printf("level=warn component=api endpoint=delete_payout outcome=failed payout_id=%s err=%v", rawID, err)
		h.respondServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, deletePayoutResponse{PayoutID: rawID, RevertedCount: reverted})
}

// ListPendingForPayoutHandler returns a seller's candidate pool for payout creation.
func (h *SettlementHandlers) ListPendingForPayoutHandler(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := h.parseUUIDParam(w, r, "sellerID")
	if !ok {
		return
	}

	transactions, err := h.service.ListPendingForPayout(r.Context(), sellerID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

// ListVirtualPayoutsHandler returns the display-only per-seller grouping of
// released, unbatched transactions.
func (h *SettlementHandlers) ListVirtualPayoutsHandler(w http.ResponseWriter, r *http.Request) {
	var sellerFilter *uuid.UUID
	if raw := r.URL.Query().Get("seller_id"); raw != "" {
		sellerID, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid seller_id")
			return
		}
		sellerFilter = &sellerID
	}

	virtual, err := h.service.ComputeVirtualPayouts(r.Context(), sellerFilter)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if virtual == nil {
		virtual = []domain.VirtualPayout{}
	}
	h.writeJSON(w, http.StatusOK, virtual)
}

// RunSweepHandler triggers a release sweep on demand. Admin only; the sweep is
// also driven periodically by the background sweeper.
func (h *SettlementHandlers) RunSweepHandler(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.RunReleaseSweep(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	h.writeJSON(w, http.StatusOK, sweepResponse{ReleasedCount: len(ids), ReleasedIDs: ids})
}

// --- helpers ---

func (h *SettlementHandlers) parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

// respondServiceError maps service and store errors to HTTP status codes:
// unknown ids to 404, validation failures to 400, state-precondition failures
// to 409, and a missing fee schedule (a hard dependency failure, never a
// zero-fee fallback) to 503.
func (h *SettlementHandlers) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrTransactionNotFound),
		errors.Is(err, store.ErrPayoutNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrFeeScheduleNotConfigured):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, app.ErrInvalidOrderRequest),
		errors.Is(err, app.ErrUnknownModality),
		errors.Is(err, app.ErrInvalidFeeValues),
		errors.Is(err, app.ErrEmptyBlockReason),
		errors.Is(err, app.ErrMissingAnticipationDate),
		errors.Is(err, app.ErrPastAnticipationDate),
		errors.Is(err, app.ErrUnknownAnticipationMode),
		errors.Is(err, app.ErrEmptyPayoutSelection),
		errors.Is(err, app.ErrDuplicatePayoutSelection):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrAlreadyBlocked),
		errors.Is(err, app.ErrNotBlockable),
		errors.Is(err, app.ErrNotBlocked),
		errors.Is(err, app.ErrAlreadyPaid),
		errors.Is(err, app.ErrNotAnticipated),
		errors.Is(err, app.ErrSellerMismatch),
		errors.Is(err, app.ErrNotEligibleForPayout),
		errors.Is(err, app.ErrNotARealPayout),
		errors.Is(err, store.ErrTransactionStateConflict),
		errors.Is(err, store.ErrPayoutMemberStateConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *SettlementHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

func (h *SettlementHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
