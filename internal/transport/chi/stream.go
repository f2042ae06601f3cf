package chi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/logger"
	"github.com/kailas-cloud/ragdex/internal/usecase/ask"
)

// AskStream handles POST /v1/ask/stream as server-sent events.
// Request errors are plain JSON responses; once the stream is open, failures
// arrive as an error event.
func (s *Server) AskStream(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !s.decode(w, r, &req) {
		return
	}

	events, err := s.deps.Ask.AskStream(r.Context(), req.toDomain())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	log := logger.FromContext(r.Context(), s.logger)
	for ev := range events {
		name, payload := sseEvent(ev)
		if err := writeSSE(w, name, payload); err != nil {
			log.Debug("stream write failed", zap.Error(err))
			// Drain so the producer can finish; it stops on ctx cancellation.
			for range events { //nolint:revive // draining
			}
			return
		}
		_ = rc.Flush()
	}
}

func sseEvent(ev ask.Event) (string, any) {
	switch ev.Type {
	case ask.EventSources:
		return string(ev.Type), ev.Sources
	case ask.EventToken:
		return string(ev.Type), sseToken{Text: ev.Text}
	case ask.EventDone:
		return string(ev.Type), ev.Response
	default:
		return string(ask.EventError), sseError{Code: errorCode(ev.Err), Message: safeMessage(ev.Err)}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	return nil
}
