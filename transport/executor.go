package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nestorgt/go-settlement/core"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultMaxAttempts             = 3
	defaultBreakerFailureThreshold = 5
	defaultBreakerOpenTimeout      = 30 * time.Second
)

// AdapterFactory builds the transport for one client certificate. A nil
// certificate yields the plain adapter.
type AdapterFactory func(cert *tls.Certificate, timeout time.Duration) core.TransportAdapter

type ExecutorConfig struct {
	MaxAttempts             int
	Backoff                 core.BackoffScheduler
	ReadTimeout             time.Duration
	MoneyTimeout            time.Duration
	ScrapeTimeout           time.Duration
	RequestsPerSecond       float64
	Burst                   int
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration
}

// ExecutorConfigFrom converts the engine configuration section.
func ExecutorConfigFrom(cfg core.ExecutorConfig) ExecutorConfig {
	return ExecutorConfig{
		MaxAttempts:             cfg.MaxAttempts,
		Backoff:                 core.ExponentialBackoffScheduler{Initial: cfg.BackoffBase(), Max: cfg.BackoffMax()},
		ReadTimeout:             cfg.Timeout(core.OperationRead),
		MoneyTimeout:            cfg.Timeout(core.OperationMoney),
		ScrapeTimeout:           cfg.Timeout(core.OperationScrape),
		RequestsPerSecond:       cfg.RequestsPerSecond,
		Burst:                   cfg.Burst,
		BreakerFailureThreshold: cfg.BreakerFailureThreshold,
		BreakerOpenTimeout:      time.Duration(cfg.BreakerOpenSeconds) * time.Second,
	}
}

func (c ExecutorConfig) normalized() ExecutorConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.Backoff == nil {
		c.Backoff = core.ExponentialBackoffScheduler{}
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.MoneyTimeout <= 0 {
		c.MoneyTimeout = 25 * time.Second
	}
	if c.ScrapeTimeout <= 0 {
		c.ScrapeTimeout = 90 * time.Second
	}
	if c.BreakerFailureThreshold <= 0 {
		c.BreakerFailureThreshold = defaultBreakerFailureThreshold
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = defaultBreakerOpenTimeout
	}
	return c
}

func (c ExecutorConfig) timeout(class core.OperationClass) time.Duration {
	switch class {
	case core.OperationMoney:
		return c.MoneyTimeout
	case core.OperationScrape:
		return c.ScrapeTimeout
	default:
		return c.ReadTimeout
	}
}

type ExecutorOption func(*RequestExecutor)

func WithAdapterFactory(factory AdapterFactory) ExecutorOption {
	return func(e *RequestExecutor) {
		if factory != nil {
			e.adapterFactory = factory
		}
	}
}

func WithObserver(observer core.Observer) ExecutorOption {
	return func(e *RequestExecutor) {
		e.observer = observer
	}
}

func WithSleep(sleep func(ctx context.Context, delay time.Duration) error) ExecutorOption {
	return func(e *RequestExecutor) {
		if sleep != nil {
			e.sleep = sleep
		}
	}
}

// RequestExecutor issues authenticated calls through per provider
// credential sources, circuit breakers and rate limiters.
type RequestExecutor struct {
	config         ExecutorConfig
	adapterFactory AdapterFactory
	observer       core.Observer
	sleep          func(ctx context.Context, delay time.Duration) error
	now            func() time.Time

	mu       sync.RWMutex
	bindings map[string]*providerBinding
}

type providerBinding struct {
	source  core.CredentialSource
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter

	mu       sync.Mutex
	adapters map[adapterKey]core.TransportAdapter
}

type adapterKey struct {
	cert    *tls.Certificate
	timeout time.Duration
}

func NewRequestExecutor(config ExecutorConfig, opts ...ExecutorOption) *RequestExecutor {
	executor := &RequestExecutor{
		config:         config.normalized(),
		adapterFactory: defaultAdapterFactory,
		sleep:          core.WaitWithContext,
		now:            func() time.Time { return time.Now().UTC() },
		bindings:       map[string]*providerBinding{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(executor)
		}
	}
	return executor
}

func defaultAdapterFactory(cert *tls.Certificate, timeout time.Duration) core.TransportAdapter {
	if cert == nil {
		return NewRESTAdapter(&http.Client{Timeout: timeout})
	}
	return NewRESTAdapter(NewMTLSClient(cert, timeout))
}

// Register binds a credential source to its provider id.
func (e *RequestExecutor) Register(source core.CredentialSource) error {
	if e == nil {
		return fmt.Errorf("transport: executor is nil")
	}
	if source == nil {
		return fmt.Errorf("transport: credential source is nil")
	}
	providerID := strings.TrimSpace(source.ProviderID())
	if providerID == "" {
		return fmt.Errorf("transport: provider id is required")
	}

	threshold := uint32(e.config.BreakerFailureThreshold)
	binding := &providerBinding{
		source: source,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "provider-" + providerID,
			MaxRequests: 1,
			Timeout:     e.config.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				e.observer.Warn(context.Background(), "provider circuit breaker state changed", map[string]any{
					"provider_id": providerID,
					"breaker":     name,
					"from":        from.String(),
					"to":          to.String(),
				})
			},
		}),
		adapters: map[adapterKey]core.TransportAdapter{},
	}
	if e.config.RequestsPerSecond > 0 {
		burst := e.config.Burst
		if burst <= 0 {
			burst = 1
		}
		binding.limiter = rate.NewLimiter(rate.Limit(e.config.RequestsPerSecond), burst)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.bindings[providerID]; exists {
		return fmt.Errorf("transport: provider %q already registered", providerID)
	}
	e.bindings[providerID] = binding
	return nil
}

func (e *RequestExecutor) binding(providerID string) (*providerBinding, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	binding, ok := e.bindings[strings.TrimSpace(providerID)]
	if !ok {
		return nil, core.NewProviderNotFoundError(providerID)
	}
	return binding, nil
}

// Execute sends req for providerID. A 401 invalidates the credential and
// retries once. Retryable requests additionally retry transient failures
// with exponential backoff. Non 2xx responses other than a terminal 401 are
// returned to the caller for interpretation.
func (e *RequestExecutor) Execute(ctx context.Context, providerID string, req core.TransportRequest) (res core.TransportResponse, err error) {
	if e == nil {
		return core.TransportResponse{}, fmt.Errorf("transport: executor is nil")
	}
	binding, err := e.binding(providerID)
	if err != nil {
		return core.TransportResponse{}, err
	}
	if req.Class == "" {
		req.Class = core.OperationRead
	}
	if req.Class == core.OperationMoney {
		req.Retryable = false
	}

	startedAt := time.Now()
	attempts := 0
	defer func() {
		e.observer.ObserveOperation(ctx, startedAt, "provider_call", err, map[string]any{
			"provider_id": providerID,
			"class":       string(req.Class),
			"method":      strings.ToUpper(req.Method),
			"path":        requestPath(req.URL),
			"status_code": res.StatusCode,
			"attempts":    attempts,
		})
	}()

	maxAttempts := 1
	if req.Retryable {
		maxAttempts = e.config.MaxAttempts
	}
	for attempt := 1; ; attempt++ {
		attempts = attempt
		res, err = e.sendAuthenticated(ctx, providerID, binding, req)
		if err == nil && !retryableStatus(res.StatusCode) {
			return res, nil
		}
		if attempt >= maxAttempts {
			return res, err
		}
		if err != nil && !core.IsRetryable(err) {
			return res, err
		}

		delay := e.config.Backoff.NextDelay(attempt)
		if err == nil {
			if hint := RetryAfter(res.Headers, e.now()); hint > delay {
				delay = hint
			}
		}
		if waitErr := e.sleep(ctx, delay); waitErr != nil {
			if err == nil {
				err = StatusError(providerID, res)
			}
			return res, err
		}
	}
}

func (e *RequestExecutor) sendAuthenticated(
	ctx context.Context,
	providerID string,
	binding *providerBinding,
	req core.TransportRequest,
) (core.TransportResponse, error) {
	cred, err := binding.source.GetValid(ctx)
	if err != nil {
		return core.TransportResponse{}, err
	}
	res, err := e.sendOnce(ctx, providerID, binding, req, cred)
	if err != nil || res.StatusCode != http.StatusUnauthorized {
		return res, err
	}

	invalidated := binding.source.Invalidate(cred)
	e.observer.Debug(ctx, "provider rejected credential, renewing", map[string]any{
		"provider_id":      providerID,
		"response_headers": core.RedactHeaders(res.Headers),
		"invalidated":      invalidated,
	})
	renewed, err := binding.source.GetValid(ctx)
	if err != nil {
		return res, core.WrapProviderError(err, providerID, core.ErrorAuth, "credential renewal after 401 failed")
	}
	res, err = e.sendOnce(ctx, providerID, binding, req, renewed)
	if err != nil {
		return res, err
	}
	if res.StatusCode == http.StatusUnauthorized {
		return res, core.NewAuthError(providerID, "provider rejected renewed credential")
	}
	return res, nil
}

var errUpstreamFailure = errors.New("transport: upstream failure")

func (e *RequestExecutor) sendOnce(
	ctx context.Context,
	providerID string,
	binding *providerBinding,
	req core.TransportRequest,
	cred core.Credential,
) (core.TransportResponse, error) {
	authCtx, err := binding.source.AuthContext(cred)
	if err != nil {
		return core.TransportResponse{}, core.WrapProviderError(err, providerID, core.ErrorAuth, "build auth context")
	}
	outgoing := req
	outgoing.Headers = make(map[string]string, len(req.Headers)+len(authCtx.Headers))
	for key, value := range req.Headers {
		outgoing.Headers[key] = value
	}
	for key, value := range authCtx.Headers {
		outgoing.Headers[key] = value
	}

	if binding.limiter != nil {
		if err := binding.limiter.Wait(ctx); err != nil {
			return core.TransportResponse{}, core.WrapRateLimitedError(err, providerID, "outbound rate limit wait aborted")
		}
	}

	timeout := e.config.timeout(req.Class)
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	outgoing.Timeout = 0
	adapter := binding.adapter(e.adapterFactory, authCtx.Certificate, timeout)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var res core.TransportResponse
	_, err = binding.breaker.Execute(func() (interface{}, error) {
		var doErr error
		res, doErr = adapter.Do(callCtx, outgoing)
		if doErr != nil {
			return nil, doErr
		}
		if res.StatusCode >= 500 {
			return nil, errUpstreamFailure
		}
		return nil, nil
	})
	switch {
	case err == nil, errors.Is(err, errUpstreamFailure):
		return res, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return core.TransportResponse{}, core.WrapProviderError(err, providerID, core.ErrorTransientProvider, "provider circuit breaker is open")
	}

	if core.ErrorKind(err) == core.ErrorPermanentRequest {
		return core.TransportResponse{}, err
	}
	if req.Class == core.OperationMoney {
		return core.TransportResponse{}, core.NewOutcomeUnknownError(
			providerID,
			req.Idempotency,
			fmt.Sprintf("money movement outcome unknown: %v", err),
		)
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return core.TransportResponse{}, core.WrapProviderError(err, providerID, core.ErrorTransientProvider, "provider call timed out")
	}
	return core.TransportResponse{}, core.WrapProviderError(err, providerID, core.ErrorTransientProvider, "provider call failed")
}

func (b *providerBinding) adapter(factory AdapterFactory, cert *tls.Certificate, timeout time.Duration) core.TransportAdapter {
	key := adapterKey{cert: cert, timeout: timeout}
	b.mu.Lock()
	defer b.mu.Unlock()
	if adapter, ok := b.adapters[key]; ok {
		return adapter
	}
	adapter := factory(cert, timeout)
	b.adapters[key] = adapter
	return adapter
}

func requestPath(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return parsed.Path
}

var _ core.Executor = (*RequestExecutor)(nil)
