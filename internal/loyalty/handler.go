package loyalty

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ecomware/fulfillment-ledger/internal/domain"
)

// OrderLookup resolves a public order UUID; the orders repository satisfies
// it. Redemption accepts public identifiers so callers never see surrogate
// keys.
type OrderLookup interface {
	GetByUUID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

type Handler struct {
	svc    *Service
	lookup OrderLookup
	logger *slog.Logger
}

func NewHandler(svc *Service, lookup OrderLookup, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, lookup: lookup, logger: logger}
}

type redeemRequest struct {
	UserID   int64   `json:"user_id"`
	Points   int64   `json:"points"`
	Currency string  `json:"currency"`
	OrderID  *string `json:"order_id"`
}

type redeemResponse struct {
	Discount string `json:"discount"`
	Currency string `json:"currency"`
	Points   int64  `json:"points"`
}

func (h *Handler) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var orderID *int64
	if req.OrderID != nil {
		publicID, err := uuid.Parse(*req.OrderID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid order id")
			return
		}
		order, err := h.lookup.GetByUUID(r.Context(), publicID)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				h.writeError(w, http.StatusNotFound, "order not found")
				return
			}
			h.logger.Error("failed to resolve order", "error", err, "order_id", publicID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		orderID = &order.ID
	}

	discount, err := h.svc.RedeemPoints(r.Context(), req.UserID, req.Points, req.Currency, orderID)
	if err != nil {
		var validation *ValidationError
		switch {
		case errors.As(err, &validation):
			h.writeError(w, http.StatusUnprocessableEntity, validation.Reason)
		case errors.Is(err, domain.ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, "user not found")
		default:
			h.logger.Error("failed to redeem points", "error", err, "user_id", req.UserID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, redeemResponse{
		Discount: discount.Amount.String(),
		Currency: discount.Currency,
		Points:   req.Points,
	})
}

func (h *Handler) HandleUserSummary(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	summary, err := h.svc.UserSummary(r.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			h.writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("failed to load user summary", "error", err, "user_id", userID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
