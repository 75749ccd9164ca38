// Package registrations records requests for the published employment report
// and emails the report link to each registrant.
package registrations

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/mail"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/virtualcc/backoffice/internal/backoffice/email"
	"github.com/virtualcc/backoffice/internal/backoffice/httputil"
	"github.com/virtualcc/backoffice/internal/backoffice/store"
	boerrors "github.com/virtualcc/backoffice/internal/errors"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxRequestBody  = 16 * 1024
)

// australianStates maps each state or territory code to the full name that
// is stored on a registration.
var australianStates = map[string]string{
	"ACT": "Australian Capital Territory",
	"NSW": "New South Wales",
	"NT":  "Northern Territory",
	"QLD": "Queensland",
	"SA":  "South Australia",
	"TAS": "Tasmania",
	"VIC": "Victoria",
	"WA":  "Western Australia",
}

// NormalizeState resolves a state code or full name, in any case, to its full
// name. ok is false for anything else.
func NormalizeState(raw string) (name string, ok bool) {
	raw = strings.Join(strings.Fields(raw), " ")
	if name, ok := australianStates[strings.ToUpper(raw)]; ok {
		return name, true
	}
	for _, name := range australianStates {
		if strings.EqualFold(name, raw) {
			return name, true
		}
	}
	return "", false
}

// Store is the persistence registrations need.
type Store interface {
	CreateReportRegistration(ctx context.Context, r *store.ReportRegistration) error
	ListReportRegistrations(ctx context.Context, state string, limit, offset int) (int, []*store.ReportRegistration, error)
}

// Config holds the links placed in the report email.
type Config struct {
	ReportURL string
	ClientURL string
}

// Handlers serves /api/report-registrations.
type Handlers struct {
	store  Store
	mailer *email.Mailer
	cfg    Config
}

// NewHandlers creates the registration handlers. mailer may be nil.
func NewHandlers(s Store, mailer *email.Mailer, cfg Config) *Handlers {
	cfg.ClientURL = strings.TrimRight(cfg.ClientURL, "/")
	return &Handlers{store: s, mailer: mailer, cfg: cfg}
}

type createRequest struct {
	Email          string `json:"email"`
	Company        string `json:"company"`
	State          string `json:"state"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	MarketingOptIn bool   `json:"marketingOptIn"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type registrationView struct {
	Email          string `json:"email"`
	Company        string `json:"company"`
	State          string `json:"state"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	MarketingOptIn bool   `json:"marketingOptIn"`
	CreatedAt      string `json:"createdAt"`
}

type pagination struct {
	Total       int `json:"total"`
	Pages       int `json:"pages"`
	CurrentPage int `json:"currentPage"`
}

type listResponse struct {
	Success    bool               `json:"success"`
	Data       []registrationView `json:"data"`
	Pagination pagination         `json:"pagination"`
}

func (req *createRequest) validate() (*store.ReportRegistration, error) {
	const op = "registrations.create"
	reg := &store.ReportRegistration{
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		Company:        strings.TrimSpace(req.Company),
		State:          strings.TrimSpace(req.State),
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		MarketingOptIn: req.MarketingOptIn,
	}
	if reg.Email == "" || reg.Company == "" || reg.State == "" || reg.FirstName == "" || reg.LastName == "" {
		return nil, boerrors.Validation(op, "Email, company, state, first name and last name are required.")
	}
	if addr, err := mail.ParseAddress(reg.Email); err != nil || addr.Address != reg.Email {
		return nil, boerrors.Validation(op, "Please provide a valid email address.")
	}
	state, ok := NormalizeState(reg.State)
	if !ok {
		return nil, boerrors.Validation(op, "Please select an Australian state or territory.")
	}
	reg.State = state
	return reg, nil
}

// HandleCreate handles POST /api/report-registrations.
func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httputil.DecodeJSON(w, r, maxRequestBody, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, false, boerrors.PublicMessage(err, "Invalid request"))
		return
	}
	reg, err := req.validate()
	if err != nil {
		writeMessage(w, http.StatusBadRequest, false, boerrors.PublicMessage(err, "Invalid request"))
		return
	}

	if err := h.store.CreateReportRegistration(r.Context(), reg); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeMessage(w, http.StatusBadRequest, false, "This email has already been registered for the report.")
			return
		}
		log.Error().Err(err).Msg("Report registration error")
		writeMessage(w, http.StatusInternalServerError, false, "Registration failed. Please try again.")
		return
	}

	log.Info().Str("state", reg.State).Bool("marketing_opt_in", reg.MarketingOptIn).Msg("Report registration received")
	h.sendReport(r.Context(), reg)
	writeMessage(w, http.StatusCreated, true, "Registration successful. Check your email for the report.")
}

// sendReport emails the report link. The registration is already stored, so a
// delivery failure is logged and the registrant is not asked to retry.
func (h *Handlers) sendReport(ctx context.Context, reg *store.ReportRegistration) {
	if h.mailer == nil {
		return
	}
	msg, err := email.RenderReportRegistrationEmail(email.ReportRegistrationData{
		FirstName:      reg.FirstName,
		ReportURL:      h.cfg.ReportURL,
		UnsubscribeURL: h.unsubscribeURL(reg.Email),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to render report email")
		return
	}
	_ = h.mailer.Deliver(ctx, "report_registration", reg.Email, msg)
}

func (h *Handlers) unsubscribeURL(addr string) string {
	return fmt.Sprintf("%s/unsubscribe?email=%s", h.cfg.ClientURL, url.QueryEscape(addr))
}

// HandleList handles GET /api/report-registrations?page&limit&state. Admin only.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.QueryInt(r, "page", 1)
	if err != nil || page < 1 {
		writeMessage(w, http.StatusBadRequest, false, "Invalid page")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", defaultPageSize)
	if err != nil || limit < 1 {
		writeMessage(w, http.StatusBadRequest, false, "Invalid limit")
		return
	}
	limit = min(limit, maxPageSize)
	state := strings.TrimSpace(r.URL.Query().Get("state"))
	if name, ok := NormalizeState(state); ok {
		state = name
	}

	total, regs, err := h.store.ListReportRegistrations(r.Context(), state, limit, (page-1)*limit)
	if err != nil {
		log.Error().Err(err).Msg("Get registrations error")
		writeMessage(w, http.StatusInternalServerError, false, "Failed to fetch registrations.")
		return
	}

	data := make([]registrationView, 0, len(regs))
	for _, reg := range regs {
		data = append(data, registrationView{
			Email:          reg.Email,
			Company:        reg.Company,
			State:          reg.State,
			FirstName:      reg.FirstName,
			LastName:       reg.LastName,
			MarketingOptIn: reg.MarketingOptIn,
			CreatedAt:      reg.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{
		Success: true,
		Data:    data,
		Pagination: pagination{
			Total:       total,
			Pages:       int(math.Ceil(float64(total) / float64(limit))),
			CurrentPage: page,
		},
	})
}

func writeMessage(w http.ResponseWriter, status int, ok bool, msg string) {
	httputil.WriteJSON(w, status, messageResponse{Success: ok, Message: msg})
}
