package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keyrelay/keyrelay/internal/core"
	"github.com/keyrelay/keyrelay/internal/core/upstream"
)

// Route parameters read by Handler.
const (
	ParamName     = "name"
	ParamEndpoint = "endpoint"
)

// Outcomes reported in Event.Outcome.
const (
	OutcomeForwarded     = "forwarded"
	OutcomeUnauthorized  = "unauthorized"
	OutcomeBadRequest    = "bad_request"
	OutcomeBusy          = "busy"
	OutcomeUpstreamError = "upstream_error"
	OutcomeInternalError = "internal_error"
)

const upstreamFailedMessage = "upstream query failed"

// Forwarder performs the upstream GET.
type Forwarder interface {
	Forward(ctx context.Context, target string, timeout time.Duration) (*upstream.ForwardResult, error)
}

// UsageRecorder queues a usage entry without blocking.
type UsageRecorder interface {
	Record(key, endpoint string, params []core.QueryParam)
}

// Event describes one handled proxy request.
type Event struct {
	Name     string
	Endpoint string
	Outcome  string
	Status   int
	Duration time.Duration
	Err      error
}

// Handler is the single routine that serves every Definition.
type Handler struct {
	Source    DefinitionSource
	Forwarder Forwarder
	Usage     UsageRecorder
	Observe   func(r *http.Request, ev Event)

	gates gateSet
}

type result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ev := Event{Endpoint: chi.URLParam(r, ParamEndpoint), Name: nameParam(r)}

	defer func() {
		ev.Duration = time.Since(start)
		if h.Observe != nil {
			h.Observe(r, ev)
		}
	}()

	params, err := ParseQuery(r.URL.RawQuery)
	if err != nil {
		ev.Outcome, ev.Err = OutcomeBadRequest, err
		ev.Status = writeResult(w, http.StatusBadRequest, "malformed query string")
		return
	}

	key, _ := FirstValue(params, "api_key")
	def, err := h.Source.Resolve(r.Context(), ev.Name, key)
	if err != nil {
		if errors.Is(err, core.ErrUnauthorizedCredential) {
			ev.Outcome, ev.Err = OutcomeUnauthorized, err
			ev.Status = writeResult(w, http.StatusUnauthorized, core.ErrUnauthorizedCredential.Error())
			return
		}
		ev.Outcome, ev.Err = OutcomeInternalError, err
		ev.Status = writeResult(w, http.StatusInternalServerError, "unexpected error")
		return
	}
	ev.Name = def.Name

	if !ValidEndpoint(ev.Endpoint) {
		ev.Outcome = OutcomeBadRequest
		ev.Status = writeResult(w, http.StatusBadRequest, "invalid endpoint")
		return
	}

	if h.Usage != nil {
		h.Usage.Record(def.APIKey, ev.Endpoint, params)
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = upstream.DefaultForwardTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	release, ok := h.gates.get(def).acquire(ctx)
	if !ok {
		ev.Outcome = OutcomeBusy
		ev.Status = writeResult(w, http.StatusServiceUnavailable, "proxy busy, retry later")
		return
	}
	defer release()

	target := BuildTarget(def.UpstreamBaseURL, def.Name, ev.Endpoint, without(params, def.stripList()))
	res, err := h.Forwarder.Forward(ctx, target, timeout)
	if err != nil {
		ev.Outcome, ev.Err = OutcomeUpstreamError, err
		ev.Status = writeResult(w, http.StatusBadGateway, upstreamFailedMessage)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(res.StatusCode)
	_, _ = w.Write(res.Body)
	ev.Outcome, ev.Status = OutcomeForwarded, res.StatusCode
}

func writeResult(w http.ResponseWriter, status int, message string) int {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result{OK: false, Message: message})
	return status
}

// Routes mounts the handler. With hosted set the route is /{name}/{endpoint},
// otherwise /{endpoint}.
// nameParam returns the decoded credential name. chi matches on RawPath when
// the request carries one (escaped "/" and the like) and on the already
// decoded Path otherwise, so only the former needs unescaping.
func nameParam(r *http.Request) string {
	name := chi.URLParam(r, ParamName)
	if r.URL.RawPath == "" {
		return name
	}
	unescaped, err := url.PathUnescape(name)
	if err != nil {
		return ""
	}
	return unescaped
}

func (h *Handler) Routes(r chi.Router, hosted bool) {
	if hosted {
		r.Get("/{"+ParamName+"}/{"+ParamEndpoint+"}", h.ServeHTTP)
		return
	}
	r.Get("/{"+ParamEndpoint+"}", h.ServeHTTP)
}
