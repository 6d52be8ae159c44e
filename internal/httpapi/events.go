package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/faredeal/accessctl/internal/accessctl/types"
)

const (
	eventBuffer       = 32
	keepAliveInterval = 25 * time.Second
)

// handleEvents streams change events as server-sent events until the client
// disconnects or the server shuts down. A client that falls behind by more
// than eventBuffer events misses the overflow.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response does not support streaming")
		return
	}

	ch := make(chan types.Event, eventBuffer)
	unsubscribe := s.svc.Subscribe(func(ev types.Event) {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("event stream client too slow, dropping event",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("event", string(ev.Type)))
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.baseCtx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encode event", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
