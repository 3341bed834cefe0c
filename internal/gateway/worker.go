package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/felipepmaragno/ai-router/internal/keys"
	"github.com/felipepmaragno/ai-router/internal/queue"
)

// Worker drains the async request queue and runs each request through the
// gateway, publishing results to the response queue.
type Worker struct {
	gateway *Gateway
	queue   queue.Queue
	keys    keys.Repository
	batch   int
}

func NewWorker(g *Gateway, q queue.Queue, repo keys.Repository) *Worker {
	return &Worker{
		gateway: g,
		queue:   q,
		keys:    repo,
		batch:   10,
	}
}

// Run polls until the context is cancelled. Receive errors back off briefly
// instead of spinning.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("async worker started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("async worker stopped")
			return
		default:
		}

		requests, err := w.queue.ReceiveRequests(ctx, w.batch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("failed to receive async requests", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, req := range requests {
			w.process(ctx, req)
		}
	}
}

func (w *Worker) process(ctx context.Context, async queue.AsyncRequest) {
	key, err := w.keys.GetByID(ctx, async.KeyID)
	if err != nil {
		slog.Warn("async request for unknown key", "key_id", async.KeyID, "request_id", async.ID)
		w.respond(ctx, queue.AsyncResponse{
			RequestID: async.ID,
			KeyID:     async.KeyID,
			Error:     "unknown key",
			CreatedAt: time.Now(),
		})
		return
	}

	resp, err := w.gateway.Complete(ctx, key, async.Request, async.ID)
	out := queue.AsyncResponse{
		RequestID: async.ID,
		KeyID:     async.KeyID,
		CreatedAt: time.Now(),
	}
	if err != nil {
		out.Error = err.Error()
	} else {
		out.Response = resp
	}
	w.respond(ctx, out)
}

func (w *Worker) respond(ctx context.Context, resp queue.AsyncResponse) {
	if err := w.queue.SendResponse(ctx, resp); err != nil {
		slog.Warn("failed to send async response", "error", err, "request_id", resp.RequestID)
	}
}
