/*
handlers.go - HTTP API handlers for the broker ledger

PURPOSE:
  Exposes the on-account allocation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Entries:
    POST  /api/brokers/{brokerID}/branches/{branchID}/transactions
    POST  /api/brokers/{brokerID}/branches/{branchID}/on-account
    PATCH /api/brokers/{brokerID}/branches/{branchID}/transactions/{txID}/approve
    PATCH /api/brokers/{brokerID}/branches/{branchID}/transactions/{txID}/approve-on-account
    PATCH /api/brokers/{brokerID}/branches/{branchID}/transactions/{txID}/reject

  Allocation:
    POST  /api/brokers/{brokerID}/branches/{branchID}/allocate
    POST  /api/brokers/{brokerID}/branches/{branchID}/auto-allocate

  Queries:
    GET   /api/brokers/{brokerID}/branches/{branchID}/ledger
    GET   /api/brokers/{brokerID}/branches/{branchID}/pending
    GET   /api/brokers/{brokerID}/branches/{branchID}/pending-debits
    GET   /api/brokers/{brokerID}/branches/{branchID}/on-account-summary
    GET   /api/brokers/{brokerID}/statement

  Scenarios:
    GET   /api/scenarios
    POST  /api/scenarios/load

REQUEST FLOW:
  1. Parse HTTP request
  2. Call domain service (validation lives there)
  3. Serialize response in the {success, data, message} envelope
  4. Map domain errors to HTTP status

ERROR HANDLING:
  - 400: Validation errors, invalid state transitions, allocation bounds
  - 404: Broker/branch/ledger/entry/booking/bank references not found
  - 409: Duplicate deposit reference, concurrent modification
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/warp/dealer-ledger/ledger"
	"github.com/warp/dealer-ledger/obs"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Svc   *ledger.Service
	Store ledger.Store

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler around the service and its store.
func NewHandler(svc *ledger.Service, store ledger.Store) *Handler {
	return &Handler{Svc: svc, Store: store}
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// CreateTransaction creates a credit or debit entry.
// POST /api/brokers/{brokerID}/branches/{branchID}/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	brokerID := chi.URLParam(r, "brokerID")
	branchID := chi.URLParam(r, "branchID")

	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	l, e, events, err := h.Svc.AddTransaction(r.Context(), brokerID, branchID, ledger.AddTransactionInput{
		Type:                  ledger.EntryType(req.Type),
		Amount:                req.Amount,
		Mode:                  ledger.PaymentMode(req.ModeOfPayment),
		SubPaymentModeID:      req.SubPaymentMode,
		ReferenceNumber:       req.ReferenceNumber,
		BookingID:             req.BookingID,
		BankID:                req.BankID,
		CashLocationID:        req.CashLocation,
		Remark:                req.Remark,
		Date:                  req.Date,
		CreatedBy:             req.CreatedBy,
		AdjustAgainstBookings: toAllocationRequests(req.AdjustAgainstBookings),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	obs.Event("transaction_created", map[string]any{
		"broker": brokerID, "branch": branchID,
		"entry": e.ID, "type": string(e.Type), "amount": e.Amount.String(),
	})
	writeJSON(w, http.StatusCreated, toTransactionResult(l, e, events))
}

// DepositOnAccount records an unbooked credit held for later allocation.
// POST /api/brokers/{brokerID}/branches/{branchID}/on-account
func (h *Handler) DepositOnAccount(w http.ResponseWriter, r *http.Request) {
	brokerID := chi.URLParam(r, "brokerID")
	branchID := chi.URLParam(r, "branchID")

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	l, e, events, err := h.Svc.DepositOnAccount(r.Context(), brokerID, branchID, ledger.DepositInput{
		Amount:           req.Amount,
		Mode:             ledger.PaymentMode(req.ModeOfPayment),
		SubPaymentModeID: req.SubPaymentMode,
		ReferenceNumber:  req.ReferenceNumber,
		BankID:           req.BankID,
		Remark:           req.Remark,
		Date:             req.Date,
		CreatedBy:        req.CreatedBy,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	obs.Event("on_account_deposit", map[string]any{
		"broker": brokerID, "branch": branchID,
		"reference": e.ReferenceNumber, "amount": e.Amount.String(),
		"status": string(e.Status),
	})
	writeJSON(w, http.StatusCreated, toTransactionResult(l, e, events))
}

// Approve transitions a pending entry to Approved.
// PATCH /api/brokers/{brokerID}/branches/{branchID}/transactions/{txID}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.approve(w, r, h.Svc.Approve)
}

// ApproveOnAccount approves a pending entry, refusing anything that is
// not an on-account credit.
// PATCH /api/brokers/{brokerID}/branches/{branchID}/transactions/{txID}/approve-on-account
func (h *Handler) ApproveOnAccount(w http.ResponseWriter, r *http.Request) {
	h.approve(w, r, h.Svc.ApproveOnAccount)
}

type approveFunc func(ctx context.Context, brokerID, branchID, entryID, approvedBy, remark string) (*ledger.BrokerLedger, *ledger.Entry, []ledger.AllocationEvent, error)

func (h *Handler) approve(w http.ResponseWriter, r *http.Request, fn approveFunc) {
	brokerID := chi.URLParam(r, "brokerID")
	branchID := chi.URLParam(r, "branchID")
	entryID := chi.URLParam(r, "txID")

	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ApprovedBy == "" {
		writeError(w, http.StatusBadRequest, "approvedBy is required", nil)
		return
	}

	l, e, events, err := fn(r.Context(), brokerID, branchID, entryID, req.ApprovedBy, req.Remark)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	obs.Event("entry_approved", map[string]any{
		"broker": brokerID, "branch": branchID,
		"entry": e.ID, "approved_by": e.ApprovedBy,
	})
	writeJSON(w, http.StatusOK, toTransactionResult(l, e, events))
}

// Reject transitions a pending entry to Rejected.
// PATCH /api/brokers/{brokerID}/branches/{branchID}/transactions/{txID}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	brokerID := chi.URLParam(r, "brokerID")
	branchID := chi.URLParam(r, "branchID")
	entryID := chi.URLParam(r, "txID")

	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	l, e, err := h.Svc.Reject(r.Context(), brokerID, branchID, entryID, req.RejectedBy, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	obs.Event("entry_rejected", map[string]any{
		"broker": brokerID, "branch": branchID,
		"entry": e.ID, "reason": e.RejectionReason,
	})
	writeJSON(w, http.StatusOK, toTransactionResult(l, e, nil))
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

// Allocate applies manual allocations from a referenced credit.
// POST /api/brokers/{brokerID}/branches/{branchID}/allocate
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	brokerID := chi.URLParam(r, "brokerID")
	branchID := chi.URLParam(r, "branchID")

	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	l, events, err := h.Svc.AllocateReference(r.Context(), brokerID, branchID,
		req.ReferenceNumber, toAllocationRequests(req.Allocations))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	obs.Event("manual_allocation", map[string]any{
		"broker": brokerID, "branch": branchID,
		"reference": req.ReferenceNumber, "count": len(events),
	})
	writeJSON(w, http.StatusOK, AllocationResultDTO{
		Allocations:      events,
		OnAccountBalance: l.OnAccountBalance(),
	})
}

// AutoAllocate runs the allocation engine on demand.
// POST /api/brokers/{brokerID}/branches/{branchID}/auto-allocate
func (h *Handler) AutoAllocate(w http.ResponseWriter, r *http.Request) {
	brokerID := chi.URLParam(r, "brokerID")
	branchID := chi.URLParam(r, "branchID")

	l, events, err := h.Svc.AutoAllocate(r.Context(), brokerID, branchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []ledger.AllocationEvent{}
	}

	writeJSON(w, http.StatusOK, AllocationResultDTO{
		Allocations:      events,
		OnAccountBalance: l.OnAccountBalance(),
	})
}

// =============================================================================
// QUERY HANDLERS
// =============================================================================

// GetLedger returns the full ledger, creating an empty one on first access.
// GET /api/brokers/{brokerID}/branches/{branchID}/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	brokerID := chi.URLParam(r, "brokerID")
	branchID := chi.URLParam(r, "branchID")

	l, err := h.Svc.Ledger(r.Context(), brokerID, branchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(l))
}

// ListPending returns a page of pending entries for the ledger.
// GET /api/brokers/{brokerID}/branches/{branchID}/pending?page=&per_page=
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	brokerID := chi.URLParam(r, "brokerID")
	branchID := chi.URLParam(r, "branchID")

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 20
	}

	entries, total, err := h.Svc.PendingEntries(r.Context(), brokerID, branchID, page, perPage)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}

	writeJSON(w, http.StatusOK, PendingEntriesDTO{
		Entries: entries,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// ListPendingDebits returns outstanding amounts per booking.
// GET /api/brokers/{brokerID}/branches/{branchID}/pending-debits
func (h *Handler) ListPendingDebits(w http.ResponseWriter, r *http.Request) {
	brokerID := chi.URLParam(r, "brokerID")
	branchID := chi.URLParam(r, "branchID")

	result, err := h.Svc.PendingDebits(r.Context(), brokerID, branchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if result.Debits == nil {
		result.Debits = []ledger.PendingDebit{}
	}
	writeJSON(w, http.StatusOK, result)
}

// OnAccountSummary returns the on-account balance and its references.
// GET /api/brokers/{brokerID}/branches/{branchID}/on-account-summary
func (h *Handler) OnAccountSummary(w http.ResponseWriter, r *http.Request) {
	brokerID := chi.URLParam(r, "brokerID")
	branchID := chi.URLParam(r, "branchID")

	result, err := h.Svc.OnAccountSummary(r.Context(), brokerID, branchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetStatement merges all of a broker's ledgers into one running-balance
// view, optionally windowed by from/to (YYYY-MM-DD or RFC3339).
// GET /api/brokers/{brokerID}/statement?from=&to=
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	brokerID := chi.URLParam(r, "brokerID")

	from, err := parseDateParam(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date", err)
		return
	}
	to, err := parseDateParam(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date", err)
		return
	}

	st, err := h.Svc.Statement(r.Context(), brokerID, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Healthz reports liveness.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func toAllocationRequests(in []AdjustmentRequest) []ledger.AllocationRequest {
	if len(in) == 0 {
		return nil
	}
	out := make([]ledger.AllocationRequest, len(in))
	for i, a := range in {
		out[i] = ledger.AllocationRequest{BookingID: a.Booking, Amount: a.Amount}
	}
	return out
}

func parseDateParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := Envelope{Success: false, Message: message}
	if err != nil {
		resp.Details = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeDomainError maps domain errors onto the HTTP status taxonomy.
func writeDomainError(w http.ResponseWriter, err error) {
	var allocErr *ledger.AllocationError
	var valErr *ledger.ValidationError

	switch {
	case errors.Is(err, ledger.ErrDuplicateReference),
		errors.Is(err, ledger.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, ledger.ErrBrokerNotFound),
		errors.Is(err, ledger.ErrBranchNotFound),
		errors.Is(err, ledger.ErrLedgerNotFound),
		errors.Is(err, ledger.ErrEntryNotFound),
		errors.Is(err, ledger.ErrBookingNotFound),
		errors.Is(err, ledger.ErrBankNotFound),
		errors.Is(err, ledger.ErrCashLocationNotFound),
		errors.Is(err, ledger.ErrSubPaymentModeNotFound),
		errors.Is(err, ledger.ErrReferenceNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.As(err, &allocErr), errors.As(err, &valErr),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrMissingField),
		errors.Is(err, ledger.ErrInvalidPaymentMode),
		errors.Is(err, ledger.ErrBrokerNotAssociated),
		errors.Is(err, ledger.ErrSubPaymentModeInactive),
		errors.Is(err, ledger.ErrNotPending),
		errors.Is(err, ledger.ErrNotOnAccount),
		errors.Is(err, ledger.ErrCreditNotApproved):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
