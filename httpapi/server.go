// Package httpapi exposes the engine to the orchestration caller over HTTP.
package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nestorgt/go-settlement/command"
	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/query"
)

const defaultMaxBodyBytes int64 = 5 << 20

// Handlers are the command and query handlers the routes dispatch to. A
// nil handler answers with an internal error.
type Handlers struct {
	SubmitTransfer  *command.SubmitTransferCommand
	SubmitExchange  *command.SubmitExchangeCommand
	Summary         *query.SummaryQuery
	ProviderSummary *query.ProviderSummaryQuery
	PeriodLedger    *query.PeriodLedgerQuery
	StatementLedger *query.StatementLedgerQuery
	Assets          *query.AssetsQuery
	Reconcile       *query.ReconcileQuery
	TransferHistory *query.TransferHistoryQuery
}

type Option func(*router)

func WithObserver(observer core.Observer) Option {
	return func(r *router) {
		r.observer = observer
	}
}

func WithMaxBodyBytes(limit int64) Option {
	return func(r *router) {
		if limit > 0 {
			r.maxBodyBytes = limit
		}
	}
}

type router struct {
	handlers     Handlers
	observer     core.Observer
	maxBodyBytes int64
}

// NewRouter builds the chi router. Every route except /healthz requires
// the shared secret.
func NewRouter(secret string, handlers Handlers, opts ...Option) (http.Handler, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("httpapi: api secret is required")
	}
	rt := &router{handlers: handlers, maxBodyBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(rt)
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observeRequests(rt.observer))
	r.Get("/healthz", rt.health)

	r.Group(func(r chi.Router) {
		r.Use(requireSecret(secret))
		r.Use(limitBody(rt.maxBodyBytes))
		r.Get("/summary", rt.summary)
		r.Post("/reconcile", rt.reconcile)
		r.Route("/{provider}", func(r chi.Router) {
			r.Get("/summary", rt.providerSummary)
			r.Get("/transactions", rt.transactions)
			r.Post("/statement", rt.statement)
			r.Get("/assets", rt.assets)
			r.Post("/transfer", rt.transfer)
			r.Post("/exchange", rt.exchange)
			r.Get("/transfers/{requestID}", rt.transferHistory)
		})
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, Envelope{Error: "route not found"})
	})
	return r, nil
}

// NewServer applies the configured timeouts to handler.
func NewServer(cfg core.ServerConfig, handler http.Handler) *http.Server {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = ":8080"
	}
	readTimeout := time.Duration(cfg.ReadTimeoutSeconds) * time.Second
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := time.Duration(cfg.WriteTimeoutSeconds) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 120 * time.Second
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}
}
