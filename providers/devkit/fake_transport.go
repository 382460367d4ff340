package devkit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/nestorgt/go-settlement/core"
)

type TransportScript struct {
	Response core.TransportResponse
	Err      error
}

// JSON scripts a response with a JSON body.
func JSON(status int, body string) TransportScript {
	return TransportScript{Response: core.TransportResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(body),
	}}
}

// FakeTransportAdapter replays scripted responses in order. The last
// script repeats once the list is exhausted.
type FakeTransportAdapter struct {
	mu       sync.Mutex
	kind     string
	scripts  []TransportScript
	requests []core.TransportRequest
}

func NewFakeTransportAdapter(kind string, scripts ...TransportScript) *FakeTransportAdapter {
	return &FakeTransportAdapter{
		kind:    strings.TrimSpace(strings.ToLower(kind)),
		scripts: append([]TransportScript(nil), scripts...),
	}
}

func (a *FakeTransportAdapter) Kind() string {
	if a == nil {
		return ""
	}
	return a.kind
}

func (a *FakeTransportAdapter) Do(_ context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil {
		return core.TransportResponse{}, fmt.Errorf("devkit: fake transport adapter is nil")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests = append(a.requests, cloneTransportRequest(req))
	index := len(a.requests) - 1
	if index < len(a.scripts) {
		script := a.scripts[index]
		return cloneTransportResponse(script.Response), script.Err
	}
	if len(a.scripts) > 0 {
		last := a.scripts[len(a.scripts)-1]
		return cloneTransportResponse(last.Response), last.Err
	}
	return core.TransportResponse{StatusCode: http.StatusOK, Headers: map[string]string{}}, nil
}

func (a *FakeTransportAdapter) Requests() []core.TransportRequest {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]core.TransportRequest, 0, len(a.requests))
	for _, item := range a.requests {
		out = append(out, cloneTransportRequest(item))
	}
	return out
}

type ExecutedRequest struct {
	ProviderID string
	Request    core.TransportRequest
}

// FakeExecutor stands in for the request executor. Responses are scripted
// per method and url path; unscripted routes answer 404.
type FakeExecutor struct {
	mu       sync.Mutex
	routes   map[string][]TransportScript
	requests []ExecutedRequest
}

func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{routes: map[string][]TransportScript{}}
}

// On scripts the responses for a route. Scripts are consumed in order and
// the last one repeats.
func (f *FakeExecutor) On(method string, path string, scripts ...TransportScript) *FakeExecutor {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := routeKey(method, path)
	f.routes[key] = append(f.routes[key], scripts...)
	return f
}

func (f *FakeExecutor) Execute(_ context.Context, providerID string, req core.TransportRequest) (core.TransportResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, ExecutedRequest{ProviderID: providerID, Request: cloneTransportRequest(req)})
	key := routeKey(req.Method, requestPath(req.URL))
	scripts := f.routes[key]
	if len(scripts) == 0 {
		return core.TransportResponse{
			StatusCode: http.StatusNotFound,
			Headers:    map[string]string{},
			Body:       []byte(`{"message":"no route for ` + key + `"}`),
		}, nil
	}
	script := scripts[0]
	if len(scripts) > 1 {
		f.routes[key] = scripts[1:]
	}
	return cloneTransportResponse(script.Response), script.Err
}

func (f *FakeExecutor) Requests() []ExecutedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ExecutedRequest, 0, len(f.requests))
	for _, item := range f.requests {
		out = append(out, ExecutedRequest{ProviderID: item.ProviderID, Request: cloneTransportRequest(item.Request)})
	}
	return out
}

// LastRequest returns the most recent call for a route.
func (f *FakeExecutor) LastRequest(method string, path string) (core.TransportRequest, bool) {
	key := routeKey(method, path)
	requests := f.Requests()
	for i := len(requests) - 1; i >= 0; i-- {
		request := requests[i].Request
		if routeKey(request.Method, requestPath(request.URL)) == key {
			return request, true
		}
	}
	return core.TransportRequest{}, false
}

func routeKey(method string, path string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + "/" + strings.Trim(strings.TrimSpace(path), "/")
}

func requestPath(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	return parsed.Path
}

func cloneTransportRequest(in core.TransportRequest) core.TransportRequest {
	out := in
	out.Headers = map[string]string{}
	out.Query = map[string]string{}
	out.Body = append([]byte(nil), in.Body...)
	for key, value := range in.Headers {
		out.Headers[key] = value
	}
	for key, value := range in.Query {
		out.Query[key] = value
	}
	return out
}

func cloneTransportResponse(in core.TransportResponse) core.TransportResponse {
	out := core.TransportResponse{
		StatusCode: in.StatusCode,
		Headers:    map[string]string{},
		Body:       append([]byte(nil), in.Body...),
		Metadata:   map[string]any{},
	}
	for key, value := range in.Headers {
		out.Headers[key] = value
	}
	for key, value := range in.Metadata {
		out.Metadata[key] = value
	}
	return out
}

var (
	_ core.TransportAdapter = (*FakeTransportAdapter)(nil)
	_ core.Executor         = (*FakeExecutor)(nil)
)
