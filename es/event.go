package es

import "maps"

// EventMessage represents an immutable domain event carried by a commit.
// Events are value objects without identity; a commit gives them a position
// within their stream.
type EventMessage struct {
	// Body contains the event data
	Body any `json:"body" bson:"body" yaml:"body"`

	// Headers contains additional event metadata
	Headers map[string]any `json:"headers,omitempty" bson:"headers,omitempty" yaml:"headers,omitempty"`
}

// NewEventMessage creates an event with the given body.
// Headers are copied so later changes to the caller's map are not observed.
func NewEventMessage(body any, headers map[string]any) EventMessage {
	return EventMessage{
		Body:    body,
		Headers: maps.Clone(headers),
	}
}

// Header returns the value stored under key.
func (e EventMessage) Header(key string) (any, bool) {
	v, ok := e.Headers[key]
	return v, ok
}

// WithBody returns a copy of the event carrying a different body.
// Headers are shared with the receiver.
func (e EventMessage) WithBody(body any) EventMessage {
	return EventMessage{Body: body, Headers: e.Headers}
}

func cloneEvents(events []EventMessage) []EventMessage {
	if events == nil {
		return nil
	}
	out := make([]EventMessage, len(events))
	for i := range events {
		out[i] = NewEventMessage(events[i].Body, events[i].Headers)
	}
	return out
}
