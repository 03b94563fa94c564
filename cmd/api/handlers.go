package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/fredCredit/pkg/ledger"
	"github.com/mcclellann/fredCredit/pkg/models"
	"github.com/mcclellann/fredCredit/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Server holds the ledger instance.
type Server struct {
	ledger  *ledger.Ledger
	storage store.Storage // Keep a reference to the storage to close it
	logger  logrus.FieldLogger
}

func NewServer(s store.Storage, logger logrus.FieldLogger, opts ...ledger.Option) *Server {
	return &Server{
		ledger:  ledger.NewLedger(s, append([]ledger.Option{ledger.WithLogger(logger)}, opts...)...),
		storage: s,
		logger:  logger,
	}
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	router.HandleFunc("/credits", s.openCreditHandler).Methods("POST")
	router.HandleFunc("/credits/delinquent", s.listDelinquentHandler).Methods("GET")
	router.HandleFunc("/credits/{id}", s.getCreditHandler).Methods("GET")
	router.HandleFunc("/credits/{id}/installments/{seq}/payments", s.payInstallmentHandler).Methods("POST")
	router.HandleFunc("/credits/{id}/cancel", s.cancelCreditHandler).Methods("POST")
	router.HandleFunc("/credits/{id}/transactions", s.listTransactionsHandler).Methods("GET")
	router.HandleFunc("/clients/{id}/credits", s.listClientCreditsHandler).Methods("GET")
	router.HandleFunc("/clients/{id}/overdue", s.listOverdueHandler).Methods("GET")
	router.HandleFunc("/clients/{id}/balance", s.clientBalanceHandler).Methods("GET")
	router.HandleFunc("/clients/{id}/balance/reconcile", s.reconcileBalanceHandler).Methods("POST")

	return router
}

// statusFor maps an engine error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrCreditNotFound),
		errors.Is(err, models.ErrInstallmentNotFound),
		errors.Is(err, models.ErrSaleNotFound),
		errors.Is(err, models.ErrClientNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateActiveCredit),
		errors.Is(err, models.ErrInstallmentAlreadyPaid),
		errors.Is(err, models.ErrCreditNotActive),
		errors.Is(err, models.ErrSaleAlreadyCredited):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrInvalidTerm),
		errors.Is(err, models.ErrInsufficientAmount),
		errors.Is(err, models.ErrSaleVoided),
		errors.Is(err, models.ErrSaleNotCredit),
		errors.Is(err, models.ErrSaleClientMismatch):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func parseCreditID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	creditID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid credit ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return creditID, true
}

// parseAsOf reads the as_of query parameter as RFC 3339 or a plain date; it defaults to now.
func parseAsOf(r *http.Request) (time.Time, error) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if pinger, ok := s.storage.(interface{ DB() *sql.DB }); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pinger.DB().PingContext(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) openCreditHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.SaleID == "" || req.ClientID == "" {
		http.Error(w, "sale_id and client_id are required", http.StatusBadRequest)
		return
	}

	credit, err := s.ledger.OpenCredit(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, credit)
}

func (s *Server) getCreditHandler(w http.ResponseWriter, r *http.Request) {
	creditID, ok := parseCreditID(w, r)
	if !ok {
		return
	}

	snapshot, err := s.ledger.GetCreditStatus(r.Context(), creditID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) payInstallmentHandler(w http.ResponseWriter, r *http.Request) {
	creditID, ok := parseCreditID(w, r)
	if !ok {
		return
	}
	sequence, err := strconv.Atoi(mux.Vars(r)["seq"])
	if err != nil {
		http.Error(w, "Invalid installment sequence", http.StatusBadRequest)
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.ledger.PayInstallment(r.Context(), creditID, sequence, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) cancelCreditHandler(w http.ResponseWriter, r *http.Request) {
	creditID, ok := parseCreditID(w, r)
	if !ok {
		return
	}

	if err := s.ledger.CancelCredit(r.Context(), creditID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	creditID, ok := parseCreditID(w, r)
	if !ok {
		return
	}

	transactions, err := s.ledger.ListTransactions(r.Context(), creditID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

func (s *Server) listDelinquentHandler(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseAsOf(r)
	if err != nil {
		http.Error(w, "Invalid as_of", http.StatusBadRequest)
		return
	}

	credits, err := s.ledger.ListDelinquentCredits(r.Context(), asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if credits == nil {
		credits = []*models.Credit{}
	}
	writeJSON(w, http.StatusOK, credits)
}

func (s *Server) listClientCreditsHandler(w http.ResponseWriter, r *http.Request) {
	credits, err := s.ledger.ListClientCredits(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, credits)
}

func (s *Server) listOverdueHandler(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseAsOf(r)
	if err != nil {
		http.Error(w, "Invalid as_of", http.StatusBadRequest)
		return
	}

	installments, err := s.ledger.ListOverdueInstallments(r.Context(), mux.Vars(r)["id"], asOf)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, installments)
}

func (s *Server) clientBalanceHandler(w http.ResponseWriter, r *http.Request) {
	projection, err := s.ledger.GetClientBalance(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projection)
}

func (s *Server) reconcileBalanceHandler(w http.ResponseWriter, r *http.Request) {
	projection, err := s.ledger.ReconcileClient(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projection)
}
