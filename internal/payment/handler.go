package payment

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler exposes the gateway webhook endpoint.
type Handler struct {
	orchestrator *Orchestrator
	log          *zap.Logger
}

// NewHandler creates the webhook HTTP handler.
func NewHandler(o *Orchestrator) *Handler {
	return &Handler{
		orchestrator: o,
		log:          zap.L().With(zap.String("component", "webhook")),
	}
}

// Routes mounts the webhook endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhooks/payment", h.handlePaymentEvent)
}

// handlePaymentEvent accepts one gateway notification. Contract with the
// gateway: 2xx means "stop redelivering", anything else means "try again".
// Business anomalies (unknown id, out-of-order events) are acked; only
// storage failures earn a 5xx.
func (h *Handler) handlePaymentEvent(w http.ResponseWriter, r *http.Request) {
	var ev Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.log.Warn("malformed webhook body", zap.Error(err))
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}
	if ev.Type == "" || ev.Object.ID == "" {
		h.log.Warn("webhook missing event type or object id")
		http.Error(w, "missing event type or object id", http.StatusBadRequest)
		return
	}

	if err := h.orchestrator.HandleEvent(r.Context(), ev); err != nil {
		h.log.Error("webhook processing failed",
			zap.String("event", ev.Type),
			zap.String("payment", ev.Object.ID),
			zap.Error(err),
		)
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}
