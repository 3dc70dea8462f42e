package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fintrack/fintrack/internal/finance"
	"github.com/fintrack/fintrack/internal/middleware"
	"github.com/fintrack/fintrack/internal/repository"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type RecordHandlers struct {
	records *repository.RecordRepository
	logger  *logrus.Logger
}

func NewRecordHandlers(records *repository.RecordRepository, logger *logrus.Logger) *RecordHandlers {
	return &RecordHandlers{records: records, logger: logger}
}

type ListResponse struct {
	Data []repository.Record `json:"data"`
}

type AppliedResponse struct {
	Expenses []repository.Record `json:"expenses"`
}

type ScheduleResponse struct {
	Schedule []finance.Installment `json:"schedule"`
}

type ApplyTemplatesRequest struct {
	Month string `json:"month"`
}

func userID(r *http.Request) string {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.UserID
}

// monthParam validates the optional month query parameter.
func monthParam(w http.ResponseWriter, r *http.Request) (finance.Month, bool) {
	raw := r.URL.Query().Get("month")
	if raw == "" {
		return finance.Month{}, true
	}
	m, err := finance.ParseMonth(raw)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_MONTH", "month must be YYYY-MM")
		return finance.Month{}, false
	}
	return m, true
}

func decodeRecord(w http.ResponseWriter, r *http.Request) (repository.Record, bool) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var rec repository.Record
	if err := dec.Decode(&rec); err != nil || rec == nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body must be a JSON object")
		return nil, false
	}
	return rec, true
}

func (h *RecordHandlers) List(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		month, ok := monthParam(w, r)
		if !ok {
			return
		}
		filter := ""
		if !month.IsZero() {
			filter = month.String()
		}
		respondWithJSON(w, http.StatusOK, ListResponse{Data: h.records.List(userID(r), collection, filter)})
	}
}

func (h *RecordHandlers) Create(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := decodeRecord(w, r)
		if !ok {
			return
		}
		created := h.records.Create(userID(r), collection, rec)
		h.logger.WithFields(logrus.Fields{
			"collection": collection,
			"id":         created.ID(),
		}).Debug("Record created")
		respondWithJSON(w, http.StatusCreated, created)
	}
}

func (h *RecordHandlers) Get(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := h.records.Get(userID(r), collection, mux.Vars(r)["id"])
		if !ok {
			respondWithError(w, http.StatusNotFound, "NOT_FOUND", "Record not found")
			return
		}
		respondWithJSON(w, http.StatusOK, rec)
	}
}

// Update replaces the record on PUT and merges into it on PATCH.
func (h *RecordHandlers) Update(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		rec, ok := decodeRecord(w, r)
		if !ok {
			return
		}
		var (
			updated repository.Record
			found   bool
		)
		if r.Method == http.MethodPatch {
			updated, found = h.records.Merge(userID(r), collection, id, rec)
		} else {
			updated, found = h.records.Update(userID(r), collection, id, rec)
		}
		if !found {
			respondWithError(w, http.StatusNotFound, "NOT_FOUND", "Record not found")
			return
		}
		respondWithJSON(w, http.StatusOK, updated)
	}
}

func (h *RecordHandlers) Delete(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.records.Delete(userID(r), collection, mux.Vars(r)["id"]) {
			respondWithError(w, http.StatusNotFound, "NOT_FOUND", "Record not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Dashboard reports the month's totals. It defaults to the current month.
func (h *RecordHandlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	if month.IsZero() {
		month = finance.CurrentMonth()
	}

	uid := userID(r)
	var (
		incomes     []finance.Income
		expenses    []finance.Expense
		loans       []finance.Loan
		debts       []finance.Debt
		investments []finance.Investment
	)
	err := errors.Join(
		convertRecords(h.records.List(uid, "income", month.String()), &incomes),
		convertRecords(h.records.List(uid, "expenses", month.String()), &expenses),
		convertRecords(h.records.List(uid, "loans", ""), &loans),
		convertRecords(h.records.List(uid, "debts", ""), &debts),
		convertRecords(h.records.List(uid, "investments", month.String()), &investments),
	)
	if err != nil {
		h.logger.WithError(err).Warn("Stored records do not match the finance types")
		respondWithError(w, http.StatusUnprocessableEntity, "INVALID_RECORDS", "Stored records could not be summarized")
		return
	}

	o := finance.Summarize(month, incomes, expenses, loans, debts, investments)
	respondWithJSON(w, http.StatusOK, finance.Dashboard{
		Month:         o.Month,
		TotalIncome:   o.Income,
		TotalExpenses: o.Expenses,
		TotalEMI:      o.EMI,
		Savings:       o.Savings,
		Categories:    o.Categories,
	})
}

// ApplyTemplates copies every active template into month as an expense.
// Templates already applied to that month are skipped.
func (h *RecordHandlers) ApplyTemplates(w http.ResponseWriter, r *http.Request) {
	var req ApplyTemplatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	month, err := finance.ParseMonth(req.Month)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_MONTH", "month must be YYYY-MM")
		return
	}

	uid := userID(r)
	applied := map[string]bool{}
	for _, e := range h.records.List(uid, "expenses", month.String()) {
		if tid, ok := e["templateId"].(string); ok {
			applied[tid] = true
		}
	}

	created := []repository.Record{}
	for _, tpl := range h.records.List(uid, "templates", "") {
		if active, ok := tpl["active"].(bool); ok && !active {
			continue
		}
		if applied[tpl.ID()] {
			continue
		}
		created = append(created, h.records.Create(uid, "expenses", repository.Record{
			"category":    tpl["category"],
			"description": tpl["description"],
			"amount":      tpl["amount"],
			"month":       month.String(),
			"recurring":   true,
			"templateId":  tpl.ID(),
		}))
	}

	h.logger.WithFields(logrus.Fields{
		"user_id": uid,
		"month":   month.String(),
		"created": len(created),
	}).Info("Expense templates applied")
	respondWithJSON(w, http.StatusOK, AppliedResponse{Expenses: created})
}

func (h *RecordHandlers) LoanSchedule(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.records.Get(userID(r), "loans", mux.Vars(r)["id"])
	if !ok {
		respondWithError(w, http.StatusNotFound, "NOT_FOUND", "Loan not found")
		return
	}
	var loan finance.Loan
	if err := convertRecords(rec, &loan); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "INVALID_LOAN", "Loan record is malformed")
		return
	}

	schedule, err := finance.Amortize(loan.Principal, loan.AnnualRate, loan.TenureMonths, loan.StartMonth())
	if errors.Is(err, finance.ErrInvalidLoanTerms) {
		respondWithError(w, http.StatusUnprocessableEntity, "INVALID_LOAN", err.Error())
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to build loan schedule")
		respondWithError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to build loan schedule")
		return
	}
	respondWithJSON(w, http.StatusOK, ScheduleResponse{Schedule: schedule})
}

// convertRecords re-decodes free-form records into the typed finance model.
func convertRecords(in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
