package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/nmoreno/biblioteca/internal/core/domain"
	"github.com/nmoreno/biblioteca/internal/core/service"
	"github.com/nmoreno/biblioteca/internal/port"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LoanHandler exposes the loan lifecycle over HTTP. Serialization of loans
// lives here, not in the core.
type LoanHandler struct {
	loans *service.LoanService
	log   *logrus.Logger
}

func NewLoanHandler(loans *service.LoanService, log *logrus.Logger) *LoanHandler {
	return &LoanHandler{loans: loans, log: log}
}

// NewRouter wires all routes. Everything except login and health sits
// behind the JWT middleware.
func NewRouter(h *LoanHandler, a *Authenticator, jwtSecret string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/api/login", a.Login).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(AuthMiddleware(jwtSecret))
	api.HandleFunc("/loans", h.Checkout).Methods(http.MethodPost)
	api.HandleFunc("/loans", h.List).Methods(http.MethodGet)
	api.HandleFunc("/loans/overdue", h.ListOverdue).Methods(http.MethodGet)
	api.HandleFunc("/loans/stats", h.Stats).Methods(http.MethodGet)
	api.HandleFunc("/loans/{id}", h.Get).Methods(http.MethodGet)
	api.HandleFunc("/loans/{id}/return", h.Return).Methods(http.MethodPost)
	api.HandleFunc("/loans/{id}/renew", h.Renew).Methods(http.MethodPost)
	api.HandleFunc("/loans/{id}/lost", h.MarkLost).Methods(http.MethodPost)
	api.HandleFunc("/loans/{id}/fine/pay", h.PayFine).Methods(http.MethodPost)
	api.HandleFunc("/patrons/{id}/loans", h.ListByPatron).Methods(http.MethodGet)
	return r
}

type checkoutRequest struct {
	PatronID string    `json:"patronId"`
	BookID   string    `json:"bookId"`
	DueAt    time.Time `json:"dueAt"`
	Notes    string    `json:"notes"`
}

type notesRequest struct {
	Notes string `json:"notes"`
}

type renewRequest struct {
	AdditionalDays int `json:"additionalDays"`
}

type apiResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Count   *int        `json:"count,omitempty"`
}

type fineDTO struct {
	Amount int64      `json:"amount"`
	Paid   bool       `json:"paid"`
	PaidAt *time.Time `json:"paidAt"`
}

type loanDTO struct {
	ID            string     `json:"id"`
	PatronID      string     `json:"patronId"`
	BookID        string     `json:"bookId"`
	BorrowedAt    time.Time  `json:"borrowedAt"`
	DueAt         time.Time  `json:"dueAt"`
	ReturnedAt    *time.Time `json:"returnedAt"`
	Status        string     `json:"status"`
	RenewalCount  int        `json:"renewalCount"`
	Fine          fineDTO    `json:"fine"`
	Notes         string     `json:"notes"`
	Active        bool       `json:"active"`
	IsOverdue     bool       `json:"isOverdue"`
	DaysOverdue   int        `json:"daysOverdue"`
	DaysRemaining int        `json:"daysRemaining"`
}

func toLoanDTO(l *domain.Loan) loanDTO {
	now := time.Now()
	return loanDTO{
		ID:            l.ID,
		PatronID:      l.PatronID,
		BookID:        l.BookID,
		BorrowedAt:    l.BorrowedAt,
		DueAt:         l.DueAt,
		ReturnedAt:    l.ReturnedAt,
		Status:        string(l.EffectiveStatus(now)),
		RenewalCount:  l.RenewalCount,
		Fine:          fineDTO{Amount: l.Fine.Amount, Paid: l.Fine.Paid, PaidAt: l.Fine.PaidAt},
		Notes:         l.Notes,
		Active:        l.Active,
		IsOverdue:     l.IsOverdue(now),
		DaysOverdue:   l.DaysOverdue(now),
		DaysRemaining: l.DaysRemaining(now),
	}
}

func toLoanDTOs(loans []*domain.Loan) []loanDTO {
	out := make([]loanDTO, 0, len(loans))
	for _, l := range loans {
		out = append(out, toLoanDTO(l))
	}
	return out
}

func (h *LoanHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "invalid request body"})
		return
	}
	if req.PatronID == "" || req.BookID == "" || req.DueAt.IsZero() {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: "missing required fields"})
		return
	}

	loan, err := h.loans.Checkout(r.Context(), req.PatronID, req.BookID, req.DueAt, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, apiResponse{Success: true, Message: "loan created", Data: toLoanDTO(loan)})
}

func (h *LoanHandler) Return(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	decodeOptional(r, &req)

	loan, err := h.loans.Return(r.Context(), mux.Vars(r)["id"], req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "book returned", Data: toLoanDTO(loan)})
}

func (h *LoanHandler) Renew(w http.ResponseWriter, r *http.Request) {
	var req renewRequest
	decodeOptional(r, &req)

	loan, err := h.loans.Renew(r.Context(), mux.Vars(r)["id"], req.AdditionalDays)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "loan renewed", Data: toLoanDTO(loan)})
}

func (h *LoanHandler) MarkLost(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	decodeOptional(r, &req)

	loan, err := h.loans.MarkLost(r.Context(), mux.Vars(r)["id"], req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "book marked as lost", Data: toLoanDTO(loan)})
}

func (h *LoanHandler) PayFine(w http.ResponseWriter, r *http.Request) {
	loan, err := h.loans.PayFine(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "fine paid", Data: toLoanDTO(loan)})
}

func (h *LoanHandler) Get(w http.ResponseWriter, r *http.Request) {
	loan, err := h.loans.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: toLoanDTO(loan)})
}

func (h *LoanHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := port.LoanFilter{
		PatronID: q.Get("patronId"),
		BookID:   q.Get("bookId"),
	}
	if raw := q.Get("status"); raw != "" {
		status, ok := domain.ParseStatus(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, apiResponse{Message: "unknown status"})
			return
		}
		filter.Status = status
	}

	loans, err := h.loans.List(r.Context(), filter, pageFromQuery(q.Get("page"), q.Get("limit")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	n := len(loans)
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: toLoanDTOs(loans), Count: &n})
}

func (h *LoanHandler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	loans, err := h.loans.ListOverdue(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	n := len(loans)
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: toLoanDTOs(loans), Count: &n})
}

func (h *LoanHandler) ListByPatron(w http.ResponseWriter, r *http.Request) {
	var status domain.Status
	if raw := r.URL.Query().Get("status"); raw != "" && raw != "all" {
		parsed, ok := domain.ParseStatus(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, apiResponse{Message: "unknown status"})
			return
		}
		status = parsed
	}

	loans, err := h.loans.ListByPatron(r.Context(), mux.Vars(r)["id"], status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	n := len(loans)
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: toLoanDTOs(loans), Count: &n})
}

func (h *LoanHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.loans.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: stats})
}

func (h *LoanHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *LoanHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrLoanNotFound),
		errors.Is(err, domain.ErrPatronNotFound),
		errors.Is(err, domain.ErrBookNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrBookAlreadyLoaned),
		errors.Is(err, domain.ErrStaleWrite):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrPatronInactive),
		errors.Is(err, domain.ErrBookUnavailable),
		errors.Is(err, domain.ErrPatronLoanLimit),
		errors.Is(err, domain.ErrInvalidDueDate),
		errors.Is(err, domain.ErrNotesTooLong),
		errors.Is(err, domain.ErrRenewalLimit),
		errors.Is(err, domain.ErrLoanNotActive),
		errors.Is(err, domain.ErrAlreadyReturned),
		errors.Is(err, domain.ErrAlreadyLost),
		errors.Is(err, domain.ErrNoFineDue),
		errors.Is(err, domain.ErrFineAlreadyPaid):
		status = http.StatusBadRequest
	case domain.IsTransient(err):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		h.log.WithError(err).Error("request failed")
		writeJSON(w, status, apiResponse{Message: "internal error"})
		return
	}
	writeJSON(w, status, apiResponse{Message: err.Error()})
}

func pageFromQuery(pageRaw, limitRaw string) port.Page {
	page, _ := strconv.Atoi(pageRaw)
	limit, _ := strconv.Atoi(limitRaw)
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	return port.Page{Offset: (page - 1) * limit, Limit: limit}
}

// decodeOptional tolerates an empty body on endpoints whose payload is
// optional.
func decodeOptional(r *http.Request, v interface{}) {
	if r.Body == nil {
		return
	}
	_ = json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
