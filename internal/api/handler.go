package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/felipepmaragno/ai-router/internal/domain"
	"github.com/felipepmaragno/ai-router/internal/gateway"
	"github.com/felipepmaragno/ai-router/internal/keys"
	"github.com/felipepmaragno/ai-router/internal/queue"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HandlerConfig struct {
	Gateway *gateway.Gateway
	Keys    keys.Repository
	Queue   queue.Queue
}

type Handler struct {
	gateway *gateway.Gateway
	keys    keys.Repository
	queue   queue.Queue
	mux     *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		gateway: cfg.Gateway,
		keys:    cfg.Keys,
		queue:   cfg.Queue,
		mux:     http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	h.mux.HandleFunc("POST /v1/async/chat/completions", h.handleAsyncChatCompletions)
	h.mux.HandleFunc("GET /v1/models", h.handleListModels)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", h.handleHealthReady)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	key, ok := h.authenticate(w, r, requestID)
	if !ok {
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "model and messages are required")
		return
	}

	if req.Stream {
		h.handleStreamingResponse(w, r, key, req, requestID)
		return
	}

	resp, err := h.gateway.Complete(ctx, key, req, requestID)
	if err != nil {
		h.writeGatewayError(w, err, requestID)
		return
	}

	slog.Info("request completed",
		"request_id", requestID,
		"key_id", key.ID,
		"model_group", req.Model,
		"deployment_id", resp.Gateway.DeploymentID,
		"latency_ms", resp.Gateway.LatencyMs,
		"cache_hit", resp.Gateway.CacheHit,
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	if resp.Gateway.CacheHit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleStreamingResponse(w http.ResponseWriter, r *http.Request, key *domain.VirtualKey, req domain.ChatRequest, requestID string) {
	ctx := r.Context()
	start := time.Now()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	s, dep, err := h.gateway.CompleteStream(ctx, key, req, requestID)
	if err != nil {
		h.writeGatewayError(w, err, requestID)
		return
	}
	defer s.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", requestID)

	for {
		chunk, err := s.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				latency := time.Since(start).Milliseconds()
				trailer := domain.Gateway{
					DeploymentID: dep.ID,
					ModelGroup:   req.Model,
					LatencyMs:    latency,
					RequestID:    requestID,
				}
				trailerJSON, _ := json.Marshal(map[string]interface{}{"x_gateway": trailer})
				w.Write([]byte("data: " + string(trailerJSON) + "\n\n"))
				w.Write([]byte("data: [DONE]\n\n"))
				flusher.Flush()

				slog.Info("streaming request completed",
					"request_id", requestID,
					"key_id", key.ID,
					"model_group", req.Model,
					"deployment_id", dep.ID,
					"latency_ms", latency,
				)
			} else {
				// Partial deltas were already flushed; surface the
				// error as a final SSE event.
				slog.Error("streaming error", "error", err, "request_id", requestID)
				errJSON, _ := json.Marshal(map[string]interface{}{
					"error": map[string]interface{}{"message": err.Error(), "type": "stream_error"},
				})
				w.Write([]byte("data: " + string(errJSON) + "\n\n"))
				flusher.Flush()
			}
			return
		}

		data, _ := json.Marshal(chunk)
		w.Write([]byte("data: " + string(data) + "\n\n"))
		flusher.Flush()
	}
}

func (h *Handler) handleAsyncChatCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.queue == nil {
		writeError(w, http.StatusNotImplemented, "async queue not configured")
		return
	}

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}

	key, ok := h.authenticate(w, r, requestID)
	if !ok {
		return
	}

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "model and messages are required")
		return
	}

	async := queue.AsyncRequest{
		ID:        requestID,
		KeyID:     key.ID,
		Request:   req,
		CreatedAt: time.Now(),
	}

	if err := h.queue.SendRequest(ctx, async); err != nil {
		slog.Error("failed to enqueue async request", "error", err, "request_id", requestID)
		writeError(w, http.StatusInternalServerError, "failed to enqueue request")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"request_id": requestID,
		"status":     "queued",
	})
}

func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.gateway.Models(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list models")
		return
	}

	resp := domain.ModelsResponse{
		Object: "list",
		Data:   models,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	deployments := h.gateway.HealthStates(r.Context())

	status := "healthy"
	for _, s := range deployments {
		if s != "ok" {
			status = "degraded"
			break
		}
	}

	resp := map[string]interface{}{
		"status":           status,
		"version":          "0.1.0",
		"deployments":      deployments,
		"circuit_breakers": h.gateway.BreakerStates(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, requestID string) (*domain.VirtualKey, bool) {
	apiKey := extractAPIKey(r)
	if apiKey == "" {
		writeError(w, http.StatusUnauthorized, "missing API key")
		return nil, false
	}

	key, err := h.keys.GetByAPIKey(r.Context(), apiKey)
	if err != nil {
		slog.Warn("invalid API key", "error", err, "request_id", requestID)
		writeError(w, http.StatusUnauthorized, "invalid API key")
		return nil, false
	}
	return key, true
}

func (h *Handler) writeGatewayError(w http.ResponseWriter, err error, requestID string) {
	switch {
	case errors.Is(err, domain.ErrModelGroupNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoDeploymentsAvailable):
		slog.Warn("no deployments available", "error", err, "request_id", requestID)
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrBudgetExceeded):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("gateway error", "error", err, "request_id", requestID)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func extractAPIKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}
