package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"alertrelay/internal/event"
	"alertrelay/internal/health"
	"alertrelay/internal/manager"
	"alertrelay/internal/queue"
	"alertrelay/internal/storage"
	logx "alertrelay/pkg/logx"

	ahealth "github.com/alexliesenfeld/health"
)

const defaultAuditLimit = 50

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Field string `json:"field,omitempty"`
}

type eventResponse struct {
	Result    *manager.Result   `json:"result,omitempty"`
	Succeeded []string          `json:"succeeded,omitempty"`
	Failed    []string          `json:"failed,omitempty"`
	Failures  []manager.Failure `json:"failures,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type queueResponse struct {
	Size    int           `json:"size"`
	Pending []queue.Entry `json:"pending"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// postEvent runs one event through the pipeline. 200 on full success, 400
// for a rejected event, 207 when some deliveries failed.
func (s *Server) postEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if int64(len(raw)) > s.cfg.MaxBodyBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "event too large")
		return
	}
	label := strings.TrimSpace(r.URL.Query().Get("context"))
	if label == "" {
		label = s.cfg.DefaultContext
	}

	res, err := s.d.Manager.Manage(r.Context(), raw, label)
	var (
		ve *event.ValidationError
		pd *manager.PartialDeliveryError
	)
	switch {
	case errors.As(err, &ve):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: ve.Error(), Kind: string(ve.Kind), Field: ve.Field})
		return
	case err == nil:
		ok, bad := res.ChannelSummary()
		respondJSON(w, http.StatusOK, eventResponse{Result: res, Succeeded: ok, Failed: bad})
	case errors.As(err, &pd) && res != nil:
		ok, bad := res.ChannelSummary()
		respondJSON(w, http.StatusMultiStatus, eventResponse{Result: res, Succeeded: ok, Failed: bad, Failures: pd.Failures, Error: err.Error()})
	default:
		s.log.Warn("event handling failed", logx.String("context", label), logx.Err(err))
		resp := eventResponse{Result: res, Error: err.Error()}
		respondJSON(w, http.StatusBadGateway, resp)
	}
}

func (s *Server) getQueue(w http.ResponseWriter, r *http.Request) {
	pending, err := s.d.Queue.PeekPending(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if pending == nil {
		pending = []queue.Entry{}
	}
	respondJSON(w, http.StatusOK, queueResponse{Size: len(pending), Pending: pending})
}

// postScan promotes aged entries; with ?deliver=true it also drains.
func (s *Server) postScan(w http.ResponseWriter, r *http.Request) {
	n, err := s.d.Queue.Scan(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.d.Metrics != nil {
		s.d.Metrics.AddPromoted(n)
	}
	out := map[string]any{"promoted": n}
	if deliver, _ := strconv.ParseBool(r.URL.Query().Get("deliver")); deliver {
		res, err := s.d.Manager.Deliver(r.Context(), "scan")
		out["result"] = res
		if err != nil {
			out["error"] = err.Error()
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) getAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	recs, err := s.d.Store.RecentAudit(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []storage.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, recs)
}

// getChannelHealth probes channels (?channels=a,b, default all configured).
// 503 when any is unhealthy.
func (s *Server) getChannelHealth(w http.ResponseWriter, r *http.Request) {
	if s.d.Health == nil {
		respondError(w, http.StatusNotImplemented, "health checks disabled")
		return
	}
	var names []string
	for _, n := range strings.Split(r.URL.Query().Get("channels"), ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		names = s.d.Manager.Channels()
	}
	reps := s.d.Health.Check(r.Context(), names)
	status := http.StatusOK
	if !health.Healthy(reps) {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, reps)
}

// liveness checks that the store answers reads. It does not probe channels.
func (s *Server) liveness() http.Handler {
	checker := ahealth.NewChecker(
		ahealth.WithCacheDuration(time.Second),
		ahealth.WithTimeout(5*time.Second),
		ahealth.WithCheck(ahealth.Check{
			Name: "store",
			Check: func(ctx context.Context) error {
				_, _, err := s.d.Store.Get(ctx, queue.StoreKey)
				return err
			},
		}),
		ahealth.WithCheck(ahealth.Check{
			Name: "queue",
			Check: func(ctx context.Context) error {
				_, err := s.d.Queue.Size(ctx)
				return err
			},
		}),
	)
	return ahealth.NewHandler(checker)
}
