package market

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/propshare/settlement-core/internal/model"
)

// Handler exposes the settlement service over HTTP. Caller identity comes
// from the X-Actor-ID header; operator status from the configured set.
// Authentication itself happens upstream.
type Handler struct {
	svc       *Service
	operators map[string]bool
}

// NewHandler creates an HTTP handler for the service.
func NewHandler(svc *Service, operators map[string]bool) *Handler {
	return &Handler{svc: svc, operators: operators}
}

// RegisterRoutes mounts the API surface on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/listings", h.ListListings)
	r.Post("/listings", h.CreateListing)
	r.Get("/listings/{listingID}", h.GetListing)
	r.Delete("/listings/{listingID}", h.CancelListing)
	r.Get("/listings/{listingID}/events", h.GetOrderEvents)

	r.Get("/holds", h.ListPendingHolds)
	r.Post("/holds", h.CreateHold)
	r.Get("/holds/{holdID}", h.GetHold)
	r.Post("/holds/{holdID}/confirm", h.ConfirmHold)
	r.Delete("/holds/{holdID}", h.CancelHold)

	r.Get("/reservations/{reservationID}", h.GetReservation)
	r.Post("/reservations/{reservationID}/settle", h.SettleReservation)
	r.Post("/sweep", h.RunSweep)

	r.Get("/positions/{userID}/{assetID}", h.GetPosition)
	r.Post("/grants", h.GrantShares)

	r.Get("/balances/{userID}", h.GetBalance)
	r.Post("/balances/{userID}/deposit", h.Deposit)
	r.Post("/balances/{userID}/withdraw", h.Withdraw)
}

// actor resolves the caller from the X-Actor-ID header.
func (h *Handler) actor(r *http.Request) model.Actor {
	id := r.Header.Get("X-Actor-ID")
	return model.Actor{ID: id, Operator: h.operators[id]}
}

// --- Listings ---

type createListingRequest struct {
	AssetID       string `json:"asset_id"`
	Shares        int64  `json:"shares"`
	PricePerShare string `json:"price_per_share"`
}

func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	price, err := decimal.NewFromString(req.PricePerShare)
	if err != nil {
		writeError(w, "price_per_share must be a decimal string", http.StatusBadRequest)
		return
	}

	listing, err := h.svc.CreateListing(r.Context(), h.actor(r), req.AssetID, req.Shares, price)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, listing)
}

func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.svc.GetListing(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *Handler) CancelListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.svc.CancelListing(r.Context(), h.actor(r), chi.URLParam(r, "listingID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *Handler) ListListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.svc.ListActiveListings(r.Context(), r.URL.Query().Get("asset_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if listings == nil {
		listings = []model.Listing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings})
}

func (h *Handler) GetOrderEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.GetOrderEvents(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []model.OrderEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// --- Holds ---

type createHoldRequest struct {
	ListingID string `json:"listing_id"`
	Shares    int64  `json:"shares"`
}

func (h *Handler) CreateHold(w http.ResponseWriter, r *http.Request) {
	var req createHoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	hold, err := h.svc.CreateHold(r.Context(), h.actor(r), req.ListingID, req.Shares)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, hold)
}

func (h *Handler) GetHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.svc.GetHold(r.Context(), h.actor(r), chi.URLParam(r, "holdID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hold)
}

func (h *Handler) ListPendingHolds(w http.ResponseWriter, r *http.Request) {
	sellerID := r.URL.Query().Get("seller_id")
	if sellerID == "" {
		writeError(w, "seller_id is required", http.StatusBadRequest)
		return
	}
	holds, err := h.svc.ListPendingHoldsForSeller(r.Context(), h.actor(r), sellerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if holds == nil {
		holds = []model.Hold{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"holds": holds})
}

type confirmHoldResponse struct {
	Hold        *model.Hold        `json:"hold"`
	Reservation *model.Reservation `json:"reservation,omitempty"`
}

// ConfirmHold records a confirmation. The side is inferred from the caller:
// the hold's buyer confirms as buyer, anyone else confirms as seller and is
// authorized against the listing's seller.
func (h *Handler) ConfirmHold(w http.ResponseWriter, r *http.Request) {
	actor := h.actor(r)
	holdID := chi.URLParam(r, "holdID")

	hold, err := h.svc.GetHold(r.Context(), actor, holdID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var reservation *model.Reservation
	if actor.Is(hold.BuyerID) {
		hold, reservation, err = h.svc.ConfirmHoldAsBuyer(r.Context(), actor, holdID)
	} else {
		hold, reservation, err = h.svc.ConfirmHoldAsSeller(r.Context(), actor, holdID)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmHoldResponse{Hold: hold, Reservation: reservation})
}

func (h *Handler) CancelHold(w http.ResponseWriter, r *http.Request) {
	hold, err := h.svc.CancelHold(r.Context(), h.actor(r), chi.URLParam(r, "holdID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hold)
}

// --- Reservations ---

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	reservation, err := h.svc.GetReservation(r.Context(), h.actor(r), chi.URLParam(r, "reservationID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

type settleRequest struct {
	Success bool   `json:"success"`
	Notes   string `json:"notes"`
}

func (h *Handler) SettleReservation(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reservation, err := h.svc.SettleReservation(r.Context(), h.actor(r), chi.URLParam(r, "reservationID"), req.Success, req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.RunExpirySweep(r.Context(), h.actor(r), time.Now().UTC())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Positions and grants ---

func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.svc.GetPosition(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "assetID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type grantRequest struct {
	UserID   string `json:"user_id"`
	AssetID  string `json:"asset_id"`
	Shares   int64  `json:"shares"`
	UnitCost string `json:"unit_cost"`
}

func (h *Handler) GrantShares(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	unitCost, err := decimal.NewFromString(req.UnitCost)
	if err != nil {
		writeError(w, "unit_cost must be a decimal string", http.StatusBadRequest)
		return
	}

	pos, err := h.svc.GrantShares(r.Context(), h.actor(r), req.UserID, req.AssetID, req.Shares, unitCost)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// --- Balances ---

type amountRequest struct {
	Amount string `json:"amount"`
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.svc.GetBalance(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}
	bal, err := h.svc.Deposit(r.Context(), chi.URLParam(r, "userID"), amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	amount, ok := decodeAmount(w, r)
	if !ok {
		return
	}
	bal, err := h.svc.Withdraw(r.Context(), h.actor(r), chi.URLParam(r, "userID"), amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func decodeAmount(w http.ResponseWriter, r *http.Request) (decimal.Decimal, bool) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, "amount must be a decimal string", http.StatusBadRequest)
		return decimal.Zero, false
	}
	return amount, true
}

// --- Helpers ---

// writeServiceError maps domain errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, verr.Message, http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrUnauthorized):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, model.ErrNotActive),
		errors.Is(err, model.ErrAlreadyTerminal),
		errors.Is(err, model.ErrExpired),
		errors.Is(err, model.ErrConflict):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrInsufficientSupply),
		errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrSelfTrade):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
