package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	gocmd "github.com/goliatone/go-command"
	"github.com/nestorgt/go-settlement/command"
	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/query"
	"github.com/nestorgt/go-settlement/reconcile"
)

func (rt *router) health(w http.ResponseWriter, _ *http.Request) {
	writeData(w, map[string]string{"status": "ok"})
}

// summary answers 200 while at least one provider reported a balance.
func (rt *router) summary(w http.ResponseWriter, r *http.Request) {
	report, err := rt.handlers.Summary.Query(r.Context(), query.SummaryMessage{})
	if err != nil {
		writeError(w, err)
		return
	}
	if !report.Success && len(report.Errors) > 0 {
		writeJSON(w, http.StatusBadGateway, Envelope{
			Data:      report,
			Error:     "no provider returned a balance",
			ErrorCode: core.ErrorTransientProvider,
		})
		return
	}
	writeData(w, report)
}

func (rt *router) providerSummary(w http.ResponseWriter, r *http.Request) {
	balance, err := rt.handlers.ProviderSummary.Query(r.Context(), query.ProviderSummaryMessage{
		ProviderID: providerParam(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, balance)
}

func (rt *router) transactions(w http.ResponseWriter, r *http.Request) {
	providerID := providerParam(r)
	month, year, err := periodParams(r, providerID)
	if err != nil {
		writeError(w, err)
		return
	}
	ledger, err := rt.handlers.PeriodLedger.Query(r.Context(), query.PeriodLedgerMessage{
		ProviderID: providerID,
		Month:      month,
		Year:       year,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, ledger)
}

func (rt *router) statement(w http.ResponseWriter, r *http.Request) {
	providerID := providerParam(r)
	month, year, err := periodParams(r, providerID)
	if err != nil {
		writeError(w, err)
		return
	}
	ledger, err := rt.handlers.StatementLedger.Query(r.Context(), query.StatementLedgerMessage{
		ProviderID: providerID,
		Month:      month,
		Year:       year,
		Statement:  r.Body,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, ledger)
}

func (rt *router) assets(w http.ResponseWriter, r *http.Request) {
	assets, err := rt.handlers.Assets.Query(r.Context(), query.AssetsMessage{ProviderID: providerParam(r)})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, assets)
}

func (rt *router) transfer(w http.ResponseWriter, r *http.Request) {
	providerID := providerParam(r)
	var req core.TransferRequest
	if err := decodeBody(r, providerID, &req); err != nil {
		writeError(w, err)
		return
	}
	result := gocmd.NewResult[core.TransferResult]()
	ctx := gocmd.ContextWithResult(r.Context(), result)
	if err := rt.handlers.SubmitTransfer.Execute(ctx, command.SubmitTransferMessage{ProviderID: providerID, Request: req}); err != nil {
		writeError(w, err)
		return
	}
	stored, _ := result.Load()
	writeData(w, stored)
}

func (rt *router) exchange(w http.ResponseWriter, r *http.Request) {
	providerID := providerParam(r)
	var req core.ExchangeRequest
	if err := decodeBody(r, providerID, &req); err != nil {
		writeError(w, err)
		return
	}
	result := gocmd.NewResult[core.TransferResult]()
	ctx := gocmd.ContextWithResult(r.Context(), result)
	if err := rt.handlers.SubmitExchange.Execute(ctx, command.SubmitExchangeMessage{ProviderID: providerID, Request: req}); err != nil {
		writeError(w, err)
		return
	}
	stored, _ := result.Load()
	writeData(w, stored)
}

func (rt *router) reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcile.Request
	if err := decodeBody(r, "", &req); err != nil {
		writeError(w, err)
		return
	}
	match, err := rt.handlers.Reconcile.Query(r.Context(), query.ReconcileMessage{Request: req})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, match)
}

func (rt *router) transferHistory(w http.ResponseWriter, r *http.Request) {
	history, err := rt.handlers.TransferHistory.Query(r.Context(), query.TransferHistoryMessage{
		ProviderID: providerParam(r),
		RequestID:  chi.URLParam(r, "requestID"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, history)
}

func providerParam(r *http.Request) string {
	return strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
}

func periodParams(r *http.Request, providerID string) (int, int, error) {
	month, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("month")))
	if err != nil {
		return 0, 0, core.NewPermanentRequestError(providerID, "month", "month query parameter must be an integer")
	}
	year, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("year")))
	if err != nil {
		return 0, 0, core.NewPermanentRequestError(providerID, "year", "year query parameter must be an integer")
	}
	return month, year, nil
}

func decodeBody(r *http.Request, providerID string, out any) error {
	if r.Body == nil {
		return core.NewPermanentRequestError(providerID, "body", "request body is required")
	}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(out); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.NewPermanentRequestError(providerID, "body", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return core.NewPermanentRequestError(providerID, "body", "request body must be valid JSON: "+err.Error())
	}
	return nil
}
