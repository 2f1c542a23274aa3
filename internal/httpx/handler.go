package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mpontin/totem-orders/internal/orders"
)

// ProductStore is the read-only product surface the storefront needs.
type ProductStore interface {
	ListProducts(ctx context.Context) ([]orders.Product, error)
	ListLowStock(ctx context.Context) ([]orders.Product, error)
}

type Handler struct {
	Svc      *orders.Service
	Products ProductStore
	// PaymentsEnabled is false when no gateway token is configured;
	// payment routes then answer 503 instead of calling the gateway.
	PaymentsEnabled bool
	Log             zerolog.Logger
}

func (h *Handler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Delete("/orders/{id}", h.cancelOrder)
	r.Get("/products", h.listProducts)
	r.Get("/products/low-stock", h.listLowStock)

	r.Route("/payment", func(r chi.Router) {
		r.Use(h.requirePayments)
		r.Post("/create-pix", h.createPix)
		r.Post("/create", h.createCard)
		r.Get("/status/{id}", h.paymentStatus)
		r.Delete("/cancel/{id}", h.cancelPayment)
		r.Post("/point/configure", h.configureTerminal)
		r.Get("/point/status", h.terminalStatus)
		r.Post("/clear-queue", h.clearQueue)
	})
}

func (h *Handler) requirePayments(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.PaymentsEnabled {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "payments are disabled: no gateway token configured"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps the error taxonomy onto status codes.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	var code int
	switch {
	case errors.Is(err, orders.ErrValidation), errors.Is(err, orders.ErrDeviceNotConfigured):
		code = http.StatusBadRequest
	case errors.Is(err, orders.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, orders.ErrInsufficientStock), errors.Is(err, orders.ErrFinalizationConflict):
		code = http.StatusConflict
	case errors.Is(err, orders.ErrGatewayUnavailable):
		code = http.StatusBadGateway
	default:
		code = http.StatusInternalServerError
		h.Log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Svc.CreateOrder(ctx, in)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Svc.Repo.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Svc.CancelOrder(ctx, chi.URLParam(r, "id")); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

// productView adds what the storefront actually renders: the quantity a
// cart can still take, net of reservations.
type productView struct {
	orders.Product
	Unlimited bool `json:"unlimited"`
	Available int  `json:"available"`
}

func productViews(ps []orders.Product) []productView {
	out := make([]productView, len(ps))
	for i, p := range ps {
		out[i] = productView{Product: p, Unlimited: p.Unlimited(), Available: p.Available()}
	}
	return out
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Products.ListProducts(ctx)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, productViews(ps))
}

func (h *Handler) listLowStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Products.ListLowStock(ctx)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, productViews(ps))
}

type createPixReq struct {
	OrderID string       `json:"order_id"`
	Payer   orders.Payer `json:"payer"`
}

func (h *Handler) createPix(w http.ResponseWriter, r *http.Request) {
	var req createPixReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing order_id"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	p, err := h.Svc.InitiatePixPayment(ctx, req.OrderID, req.Payer)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type createCardReq struct {
	OrderID string `json:"order_id"`
}

func (h *Handler) createCard(w http.ResponseWriter, r *http.Request) {
	var req createCardReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing order_id"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	p, err := h.Svc.InitiateCardPayment(ctx, req.OrderID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) paymentStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	v, err := h.Svc.CheckPaymentStatus(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Svc.CancelPayment(ctx, chi.URLParam(r, "id")); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type configureReq struct {
	DeviceID string `json:"device_id"`
}

func (h *Handler) configureTerminal(w http.ResponseWriter, r *http.Request) {
	var req configureReq
	_ = json.NewDecoder(r.Body).Decode(&req)

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Svc.ConfigureTerminal(ctx, req.DeviceID); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) terminalStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	st, err := h.Svc.TerminalStatus(ctx)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) clearQueue(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	n, err := h.Svc.ClearIntentQueue(ctx)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}
