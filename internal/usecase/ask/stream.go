package ask

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/domain/answer"
	"github.com/kailas-cloud/ragdex/internal/domain/query"
	"github.com/kailas-cloud/ragdex/internal/logger"
	"github.com/kailas-cloud/ragdex/internal/resilience"
)

// EventType tags a streamed event.
type EventType string

// Stream events, in emission order: one sources event, tokens, then done or error.
const (
	EventSources EventType = "sources"
	EventToken   EventType = "token"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one item of an answer stream.
type Event struct {
	Type     EventType
	Sources  []answer.SourceRef
	Text     string
	Response *answer.Response
	Err      error
}

// AskStream runs the pipeline and streams the generation. Request errors are
// returned directly; everything else arrives as events. The channel is closed
// after the done or error event, or when ctx is cancelled.
func (s *Service) AskStream(ctx context.Context, req Request) (<-chan Event, error) {
	p, err := s.cfg.resolve(req)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ctx = logger.With(ctx, s.logger, zap.String("query_id", id))
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		s.stream(ctx, out, p, id)
	}()
	return out, nil
}

func (s *Service) stream(ctx context.Context, out chan<- Event, p params, id string) {
	log := logger.FromContext(ctx)
	send := func(e Event) bool {
		select {
		case out <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}
	// whole answers (predefined, cached, no results) go out as a single token
	sendWhole := func(resp answer.Response) {
		if send(Event{Type: EventSources, Sources: resp.Sources}) && send(Event{Type: EventToken, Text: resp.Answer}) {
			send(Event{Type: EventDone, Response: &resp})
		}
	}

	r := s.newRun(log)
	q := query.New(p.question, p.fingerprint()...)

	if resp, ok := s.checkPredefined(ctx, r, q); ok {
		sendWhole(s.complete(r, resp, id, StateDone))
		return
	}

	r.enter(StateFullResponseCacheCheck)
	if s.deps.Cache != nil {
		if resp, ok := s.cachedResponse(ctx, r, q); ok {
			resp.CacheKey = q.Fingerprint()
			sendWhole(s.complete(r, resp, id, StateDone))
			return
		}
	}

	r.suspend()

	streamed := false
	compute := func(ctx context.Context) (answer.Response, error) {
		return s.streamPipeline(ctx, q, p, log, send, &streamed)
	}
	var (
		resp     answer.Response
		computed = true
		err      error
	)
	if s.deps.Cache != nil {
		// followers of an identical in-flight stream replay the leader's response
		resp, computed, err = s.shared(ctx, r, q, compute)
	} else {
		resp, err = compute(ctx)
	}
	if err != nil {
		if ctx.Err() == nil {
			send(Event{Type: EventError, Err: err})
		}
		return
	}

	final := s.complete(r, resp, id, State(resp.PerformanceMetrics.FinalState))
	if computed && streamed {
		send(Event{Type: EventDone, Response: &final})
		return
	}
	sendWhole(final)
}

// streamPipeline is the streaming counterpart of pipeline. Once retrieval
// finds documents it emits the sources event and relays tokens, and sets
// *streamed. The no-results answer is left for the caller to send whole.
func (s *Service) streamPipeline(
	ctx context.Context, q query.Query, p params, log *zap.Logger, send func(Event) bool, streamed *bool,
) (answer.Response, error) {
	r := s.newRun(log)

	pr, found, err := s.prepare(ctx, r, q, p)
	if err != nil {
		return answer.Response{}, err
	}
	if !found {
		resp := pr.resp
		resp.PerformanceMetrics = r.finish(StateNoResults)
		return resp, nil
	}
	*streamed = true
	if !send(Event{Type: EventSources, Sources: pr.resp.Sources}) {
		return answer.Response{}, ctx.Err()
	}

	r.enter(StateGenerate)
	resp := pr.resp
	text, err := s.forward(ctx, pr.prompt, p, send)
	switch {
	case err == nil:
		resp.Answer = text
		resp.Source = answer.SourceGenerated
	case ctx.Err() != nil:
		return answer.Response{}, ctx.Err()
	case text == "":
		log.Warn("Generation stream failed, returning sources only", zap.String("provider", p.provider), zap.Error(err))
		r.degrade("generator")
		resp.Answer = s.cfg.DegradedMessage
		resp.Source = answer.SourceDegraded
		if !send(Event{Type: EventToken, Text: resp.Answer}) {
			return answer.Response{}, ctx.Err()
		}
	default:
		// part of the answer is already out; the caller must discard it
		log.Warn("Generation stream broke mid-answer", zap.Error(err))
		r.degrade("generator")
		return answer.Response{}, fmt.Errorf("generation stream: %w", err)
	}

	if resp.Source == answer.SourceGenerated {
		r.enter(StateCacheStore)
	}
	resp.PerformanceMetrics = r.finish(StateDone)
	return resp, nil
}

// forward opens the generator stream and relays its chunks as token events.
// It returns the full text once the stream completes.
func (s *Service) forward(
	ctx context.Context, prompt string, p params, send func(Event) bool,
) (string, error) {
	if s.cfg.GeneratorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.GeneratorTimeout)
		defer cancel()
	}

	opts := domain.GenerateOptions{
		Provider:    p.provider,
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}
	open := func(ctx context.Context) (<-chan domain.Chunk, error) {
		return s.deps.Generator.Stream(ctx, prompt, opts)
	}

	var (
		chunks <-chan domain.Chunk
		err    error
	)
	if s.deps.Executor != nil {
		chunks, err = resilience.Call(ctx, s.deps.Executor, "generator_stream", 0, open)
	} else {
		chunks, err = open(ctx)
	}
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				return sb.String(), nil
			}
			if c.Err != nil {
				return sb.String(), c.Err
			}
			if c.Text != "" {
				sb.WriteString(c.Text)
				if !send(Event{Type: EventToken, Text: c.Text}) {
					return sb.String(), ctx.Err()
				}
			}
			if c.Done {
				return sb.String(), nil
			}
		}
	}
}
