package payment

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/academyhq/academy-api/internal/common"
)

// Handler exposes the payment HTTP surface.
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// Pay starts a payment and returns the provider checkout URL.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var in InitiateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := h.Svc.Initiate(r.Context(), in)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSONSuccess(w, "payment initiated", result)
}

// Verify settles and reports the payment identified by the path reference.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	result, err := h.Svc.Verify(r.Context(), reference)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	if result.Payment.Status != StatusSuccess {
		common.JSONError(w, http.StatusBadRequest, "payment not successful: status is "+string(result.Payment.Status))
		return
	}
	common.JSONSuccess(w, "payment verified", result)
}

// Routes mounts the payment endpoints on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/pay", h.Pay)
	r.Get("/verify/{reference}", h.Verify)
	return r
}
