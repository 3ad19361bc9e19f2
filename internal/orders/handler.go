package orders

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ecomware/fulfillment-ledger/internal/domain"
	"github.com/ecomware/fulfillment-ledger/internal/money"
	"github.com/ecomware/fulfillment-ledger/internal/stock"
)

type Handler struct {
	repo      *OrderRepository
	lifecycle *Lifecycle
	logger    *slog.Logger
}

func NewHandler(repo *OrderRepository, lifecycle *Lifecycle, logger *slog.Logger) *Handler {
	return &Handler{
		repo:      repo,
		lifecycle: lifecycle,
		logger:    logger,
	}
}

type createOrderRequest struct {
	UserID      *int64         `json:"user_id"`
	Currency    string         `json:"currency"`
	ExtrasTotal string         `json:"extras_total"`
	Items       []CheckoutLine `json:"items"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Currency == "" {
		h.writeError(w, http.StatusBadRequest, "missing currency")
		return
	}

	extras := money.Zero(req.Currency)
	if req.ExtrasTotal != "" {
		var err error
		if extras, err = money.Parse(req.ExtrasTotal, req.Currency); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid extras total")
			return
		}
	}

	order, err := h.repo.Create(r.Context(), req.UserID, req.Currency, extras, req.Items)
	if err != nil {
		switch {
		case errors.Is(err, stock.ErrInsufficientStock):
			h.writeError(w, http.StatusConflict, "insufficient stock")
		case errors.Is(err, domain.ErrProductNotFound):
			h.writeError(w, http.StatusNotFound, "product not found")
		case errors.Is(err, ErrInvalidQuantity):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("failed to create order", "error", err)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.logger.Info("order created", "order_id", order.UUID, "user_id", order.UserID)
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	order, ok := h.orderFromPath(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, list)
}

type transitionRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	order, ok := h.orderFromPath(w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := h.lifecycle.Transition(r.Context(), order.ID, req.Status)
	if err != nil {
		var invalid *domain.InvalidTransitionError
		if errors.As(err, &invalid) {
			h.writeError(w, http.StatusConflict, invalid.Error())
			return
		}
		h.logger.Error("failed to transition order", "error", err, "order_id", order.UUID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	order, ok := h.orderFromPath(w, r)
	if !ok {
		return
	}

	history, err := h.repo.History(r.Context(), order.ID)
	if err != nil {
		h.logger.Error("failed to load order history", "error", err, "order_id", order.UUID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

type refundItemsRequest struct {
	Items   []ItemRefund `json:"items"`
	Restock bool         `json:"restock"`
}

func (h *Handler) HandleRefundItems(w http.ResponseWriter, r *http.Request) {
	order, ok := h.orderFromPath(w, r)
	if !ok {
		return
	}

	var req refundItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.repo.RefundItems(r.Context(), order.ID, req.Items, req.Restock); err != nil {
		switch {
		case errors.Is(err, ErrRefundExceeds), errors.Is(err, ErrInvalidQuantity):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "order item not found")
		default:
			h.logger.Error("failed to refund items", "error", err, "order_id", order.UUID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	updated, err := h.repo.GetByID(r.Context(), order.ID)
	if err != nil {
		h.logger.Error("failed to reload order", "error", err, "order_id", order.UUID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleUpdateItem(w http.ResponseWriter, r *http.Request) {
	order, ok := h.orderFromPath(w, r)
	if !ok {
		return
	}

	itemID, err := strconv.ParseInt(r.PathValue("itemId"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.repo.UpdateItemQuantity(r.Context(), order.ID, itemID, req.Quantity); err != nil {
		switch {
		case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrRefundExceeds):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "order item not found")
		default:
			h.logger.Error("failed to update item quantity", "error", err, "order_id", order.UUID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	updated, err := h.repo.GetByID(r.Context(), order.ID)
	if err != nil {
		h.logger.Error("failed to reload order", "error", err, "order_id", order.UUID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

type payRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (h *Handler) HandleMarkPaid(w http.ResponseWriter, r *http.Request) {
	order, ok := h.orderFromPath(w, r)
	if !ok {
		return
	}

	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = order.Currency
	}
	amount, err := money.Parse(req.Amount, currency)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	if err := h.repo.MarkPaid(r.Context(), order.ID, amount); err != nil {
		switch {
		case errors.Is(err, money.ErrCurrencyMismatch):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "order not found")
		default:
			h.logger.Error("failed to mark order paid", "error", err, "order_id", order.UUID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	updated, err := h.repo.GetByID(r.Context(), order.ID)
	if err != nil {
		h.logger.Error("failed to reload order", "error", err, "order_id", order.UUID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	order, ok := h.orderFromPath(w, r)
	if !ok {
		return
	}

	if err := h.repo.SoftDelete(r.Context(), order.ID); err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("failed to delete order", "error", err, "order_id", order.UUID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) orderFromPath(w http.ResponseWriter, r *http.Request) (*domain.Order, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid order id")
		return nil, false
	}

	order, err := h.repo.GetByUUID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "order not found")
			return nil, false
		}
		h.logger.Error("failed to get order", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	return order, true
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
