package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/52poke/nxcache/internal/cache"
	"github.com/52poke/nxcache/internal/config"
	"github.com/52poke/nxcache/internal/run"
	"github.com/rs/zerolog/hlog"
)

const (
	runTokenHeader   = "X-Run-Token"
	genericErrorBody = "internal server error"
)

// Handler serves the cache and run endpoints. It is built once at startup
// and shared read-only by every request.
type Handler struct {
	Cache         cache.Store
	Runs          run.Tracker
	TTL           time.Duration
	MaxBodyBytes  int64
	VerboseErrors bool

	mux *http.ServeMux
}

// NewHandler wires the routes. runs may be nil, in which case the run
// endpoints answer 501.
func NewHandler(cfg config.Config, store cache.Store, runs run.Tracker) *Handler {
	h := &Handler{
		Cache:         store,
		Runs:          runs,
		TTL:           time.Duration(cfg.CacheTTLSeconds) * time.Second,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		VerboseErrors: cfg.VerboseErrors,
		mux:           http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /v1/cache/{key}", h.getCache)
	h.mux.HandleFunc("PUT /v1/cache/{key}", h.putCache)
	h.mux.HandleFunc("POST /v1/stats/run/{task}", h.startRun)
	h.mux.HandleFunc("DELETE /v1/stats/run/{task}", h.stopRun)
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) getCache(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	logger := hlog.FromRequest(r)

	body, err := h.Cache.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			logger.Debug().Str("key", key).Msg("cache miss")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		logger.Error().Err(err).Str("key", key).Msg("error getting blob from cache")
		h.internalError(w, err)
		return
	}

	logger.Info().Str("key", key).Int("size", len(body)).Msg("cache hit")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) putCache(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	logger := hlog.FromRequest(r)

	if !hasContentLength(r) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if h.Cache.Exists(ctx, key) {
		logger.Debug().Str("key", key).Msg("conflict: blob already cached")
		w.WriteHeader(http.StatusConflict)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.MaxBodyBytes))
	if err != nil {
		logger.Error().Err(err).Str("key", key).Msg("error reading request body")
		h.internalError(w, err)
		return
	}

	stored := true
	if cs, ok := h.Cache.(cache.ConditionalStore); ok {
		stored, err = cs.SetIfAbsent(ctx, key, body, h.TTL)
	} else {
		err = h.Cache.Set(ctx, key, body, h.TTL)
	}
	if err != nil {
		logger.Error().Err(err).Str("key", key).Msg("error storing blob in cache")
		h.internalError(w, err)
		return
	}
	if !stored {
		logger.Debug().Str("key", key).Msg("conflict: blob cached by a concurrent writer")
		w.WriteHeader(http.StatusConflict)
		return
	}

	logger.Info().Str("key", key).Int("size", len(body)).Msg("blob cached")
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	task := r.PathValue("task")

	lease, err := h.Runs.Start(r.Context(), task)
	if err != nil {
		if errors.Is(err, run.ErrActive) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		hlog.FromRequest(r).Error().Err(err).Str("task", task).Msg("error starting run")
		h.internalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(lease)
}

func (h *Handler) stopRun(w http.ResponseWriter, r *http.Request) {
	if h.Runs == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	task := r.PathValue("task")
	token := r.Header.Get(runTokenHeader)
	if token == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.Runs.Stop(r.Context(), task, token); err != nil {
		if errors.Is(err, run.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		hlog.FromRequest(r).Error().Err(err).Str("task", task).Msg("error stopping run")
		h.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	msg := genericErrorBody
	if h.VerboseErrors {
		msg = "internal server error: " + err.Error()
	}
	http.Error(w, msg, http.StatusInternalServerError)
}

// hasContentLength reports whether the client declared a body length.
// net/http reports an absent header on a body-less request as length 0.
func hasContentLength(r *http.Request) bool {
	switch {
	case r.ContentLength > 0:
		return true
	case r.ContentLength < 0:
		return false
	default:
		return r.Header.Get("Content-Length") != ""
	}
}
