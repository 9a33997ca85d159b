/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	dealership data for local development and demos. Each scenario seeds
	brokers, branches, bookings and payment-channel masters, then drives
	the service through deposits, debits and approvals.

AVAILABLE SCENARIOS:

	on-account-flow:  The canonical deposit-then-debit allocation walk
	pending-approvals: Bank deposits awaiting approval across two brokers
	multi-branch:     One broker active at two branches, cross-branch statement

USAGE VIA API:

	POST /api/scenarios/load
	{"name": "on-account-flow"}

NOTE:

	Scenarios write through the live service, so the seeded data obeys
	every validation and allocation rule. They do not clear existing
	data; load them against a fresh store.

SEE ALSO:
  - handlers.go: Scenario endpoints live with the rest of the surface
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/dealer-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes one loadable demo scenario.
type ScenarioDTO struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

var scenarios = []ScenarioDTO{
	{
		Name:        "on-account-flow",
		Title:       "On-Account Flow",
		Description: "Cash deposit auto-allocated oldest-first across two booking debits",
	},
	{
		Name:        "pending-approvals",
		Title:       "Pending Approvals",
		Description: "Bank deposits held in Pending until a manager approves them",
	},
	{
		Name:        "multi-branch",
		Title:       "Multi-Branch Broker",
		Description: "One broker trading at two branches for cross-branch statements",
	},
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario seeds the selected scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var err error
	switch req.Name {
	case "on-account-flow":
		err = h.loadOnAccountFlow(r.Context())
	case "pending-approvals":
		err = h.loadPendingApprovals(r.Context())
	case "multi-branch":
		err = h.loadMultiBranch(r.Context())
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario %q", req.Name), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.Name
	writeJSON(w, http.StatusOK, map[string]string{"loaded": req.Name})
}

// =============================================================================
// LOADERS
// =============================================================================

// seedMasters creates the shared branch/bank/cash-location/sub-mode
// records plus a broker and a few bookings, returning the broker id.
func (h *Handler) seedMasters(ctx context.Context, brokerName string, branchIDs []string) (string, []string, error) {
	for _, branchID := range branchIDs {
		if err := h.Store.SaveBranch(ctx, ledger.Branch{
			ID:   branchID,
			Name: branchID,
			City: "Pune",
		}); err != nil {
			return "", nil, err
		}
	}
	if err := h.Store.SaveBank(ctx, ledger.Bank{ID: "bank-hdfc", Name: "HDFC Bank"}); err != nil {
		return "", nil, err
	}
	if err := h.Store.SaveCashLocation(ctx, ledger.CashLocation{
		ID: "cash-main", Name: "Main Counter", BranchID: branchIDs[0],
	}); err != nil {
		return "", nil, err
	}
	if err := h.Store.SaveSubPaymentMode(ctx, ledger.SubPaymentMode{
		ID: "sub-neft", Name: "NEFT", Active: true,
	}); err != nil {
		return "", nil, err
	}

	brokerID := uuid.NewString()
	branches := make([]ledger.BrokerBranch, len(branchIDs))
	for i, id := range branchIDs {
		branches[i] = ledger.BrokerBranch{BranchID: id, Active: true}
	}
	if err := h.Store.SaveBroker(ctx, ledger.Broker{
		ID:       brokerID,
		Name:     brokerName,
		Branches: branches,
	}); err != nil {
		return "", nil, err
	}

	var bookingIDs []string
	for i := 0; i < 3; i++ {
		id := uuid.NewString()
		if err := h.Store.SaveBooking(ctx, ledger.Booking{
			ID:       id,
			Number:   fmt.Sprintf("BKG-%04d", i+1),
			BranchID: branchIDs[0],
			Amount:   decimal.NewFromInt(450000),
		}); err != nil {
			return "", nil, err
		}
		bookingIDs = append(bookingIDs, id)
	}
	return brokerID, bookingIDs, nil
}

// loadOnAccountFlow walks the canonical allocation sequence: a 5000 cash
// deposit, a 3000 debit fully covered, then a 5000 debit partially
// covered leaving 3000 outstanding.
func (h *Handler) loadOnAccountFlow(ctx context.Context) error {
	brokerID, bookings, err := h.seedMasters(ctx, "Sharma Motors", []string{"branch-north"})
	if err != nil {
		return err
	}

	day := func(n int) *time.Time {
		t := time.Now().UTC().AddDate(0, 0, n-10)
		return &t
	}

	if _, _, _, err := h.Svc.DepositOnAccount(ctx, brokerID, "branch-north", ledger.DepositInput{
		Amount:          decimal.NewFromInt(5000),
		Mode:            ledger.ModeCash,
		ReferenceNumber: "R1",
		Date:            day(1),
		CreatedBy:       "cashier-1",
	}); err != nil {
		return err
	}

	for i, amount := range []int64{3000, 5000} {
		if _, _, _, err := h.Svc.AddTransaction(ctx, brokerID, "branch-north", ledger.AddTransactionInput{
			Type:      ledger.Debit,
			Amount:    decimal.NewFromInt(amount),
			Mode:      ledger.ModeExchange,
			BookingID: bookings[i],
			Date:      day(i + 2),
			CreatedBy: "accounts-1",
		}); err != nil {
			return err
		}
	}
	return nil
}

// loadPendingApprovals seeds bank deposits that stay Pending so the
// approval endpoints have something to act on.
func (h *Handler) loadPendingApprovals(ctx context.Context) error {
	brokerID, _, err := h.seedMasters(ctx, "Patel Auto Agency", []string{"branch-east"})
	if err != nil {
		return err
	}

	for i, amount := range []int64{25000, 40000, 15000} {
		if _, _, _, err := h.Svc.DepositOnAccount(ctx, brokerID, "branch-east", ledger.DepositInput{
			Amount:           decimal.NewFromInt(amount),
			Mode:             ledger.ModeBank,
			SubPaymentModeID: "sub-neft",
			BankID:           "bank-hdfc",
			ReferenceNumber:  fmt.Sprintf("NEFT-%03d", i+1),
			CreatedBy:        "cashier-2",
		}); err != nil {
			return err
		}
	}
	return nil
}

// loadMultiBranch gives one broker activity at two branches.
func (h *Handler) loadMultiBranch(ctx context.Context) error {
	brokerID, bookings, err := h.seedMasters(ctx, "Verma Vehicles", []string{"branch-north", "branch-south"})
	if err != nil {
		return err
	}

	if _, _, _, err := h.Svc.DepositOnAccount(ctx, brokerID, "branch-north", ledger.DepositInput{
		Amount:          decimal.NewFromInt(10000),
		Mode:            ledger.ModeCash,
		ReferenceNumber: "R-NORTH-1",
		CreatedBy:       "cashier-1",
	}); err != nil {
		return err
	}
	if _, _, _, err := h.Svc.DepositOnAccount(ctx, brokerID, "branch-south", ledger.DepositInput{
		Amount:          decimal.NewFromInt(7000),
		Mode:            ledger.ModeCash,
		ReferenceNumber: "R-SOUTH-1",
		CreatedBy:       "cashier-3",
	}); err != nil {
		return err
	}
	if _, _, _, err := h.Svc.AddTransaction(ctx, brokerID, "branch-north", ledger.AddTransactionInput{
		Type:      ledger.Debit,
		Amount:    decimal.NewFromInt(4000),
		Mode:      ledger.ModeExchange,
		BookingID: bookings[0],
		CreatedBy: "accounts-1",
	}); err != nil {
		return err
	}
	return nil
}
