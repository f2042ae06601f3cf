package ragdex

import (
	"github.com/kailas-cloud/ragdex/internal/domain/answer"
	"github.com/kailas-cloud/ragdex/internal/usecase/ask"
)

// Response is the answer to one question.
type Response = answer.Response

// SourceRef is one ranked document backing an answer.
type SourceRef = answer.SourceRef

// PerformanceMetrics reports what the pipeline did for one question.
type PerformanceMetrics = answer.PerformanceMetrics

// Source says where an answer came from.
type Source = answer.Source

// Answer sources.
const (
	SourcePredefined = answer.SourcePredefined
	SourceGenerated  = answer.SourceGenerated
	SourceNoResults  = answer.SourceNoResults
	SourceDegraded   = answer.SourceDegraded
)

// EventType tags a streamed event.
type EventType string

// Stream events, in order: one sources event, tokens, then done or error.
const (
	EventSources EventType = "sources"
	EventToken   EventType = "token"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// Event is one item of an answer stream. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type     EventType
	Sources  []SourceRef
	Text     string
	Response *Response
	Err      error
}

func eventFromInternal(e ask.Event) Event {
	return Event{
		Type:     EventType(e.Type),
		Sources:  e.Sources,
		Text:     e.Text,
		Response: e.Response,
		Err:      e.Err,
	}
}
