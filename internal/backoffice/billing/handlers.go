package billing

import (
	"net/http"

	"github.com/virtualcc/backoffice/internal/auth"
	"github.com/virtualcc/backoffice/internal/backoffice/httputil"
	boerrors "github.com/virtualcc/backoffice/internal/errors"
)

const maxRequestBody = 64 * 1024

// Handlers exposes the subscription API. Every route expects
// auth.RequireAuth in front of it.
type Handlers struct {
	svc *Service
}

// NewHandlers creates subscription HTTP handlers.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

func caller(r *http.Request) (*auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		return nil, boerrors.Unauthorized("billing.caller", nil)
	}
	return p, nil
}

// HandleCreate handles POST /api/subscriptions.
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		httputil.WriteError(w, r, err, "Unauthorized")
		return
	}
	var req CreateRequest
	if err := httputil.DecodeJSON(w, r, maxRequestBody, &req); err != nil {
		httputil.WriteError(w, r, err, "Error creating subscription")
		return
	}
	res, err := h.svc.Create(r.Context(), p, req)
	if err != nil {
		httputil.WriteError(w, r, err, "Error creating subscription")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleList handles GET /api/subscriptions?customerId=.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		httputil.WriteError(w, r, err, "Unauthorized")
		return
	}
	subs, err := h.svc.ListForCustomer(r.Context(), p, r.URL.Query().Get("customerId"))
	if err != nil {
		httputil.WriteError(w, r, err, "Error listing subscriptions")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, subs)
}

// HandleGet handles GET /api/subscriptions/{id}.
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		httputil.WriteError(w, r, err, "Unauthorized")
		return
	}
	sub, err := h.svc.Get(r.Context(), p, r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, r, err, "Error retrieving subscription")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

// HandleUpdate handles PUT /api/subscriptions/{id}.
func (h *Handlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		httputil.WriteError(w, r, err, "Unauthorized")
		return
	}
	var req UpdateRequest
	if err := httputil.DecodeJSON(w, r, maxRequestBody, &req); err != nil {
		httputil.WriteError(w, r, err, "Failed to update subscription")
		return
	}
	sub, err := h.svc.Update(r.Context(), p, r.PathValue("id"), req)
	if err != nil {
		httputil.WriteError(w, r, err, "Failed to update subscription")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}

// HandleCancel handles DELETE /api/subscriptions/{id}.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	p, err := caller(r)
	if err != nil {
		httputil.WriteError(w, r, err, "Unauthorized")
		return
	}
	sub, err := h.svc.Cancel(r.Context(), p, r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, r, err, "Failed to cancel subscription")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}
