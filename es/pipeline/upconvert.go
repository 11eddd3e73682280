package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/getpup/pupstore/es"
)

// maxConversions bounds how many times a single event body is converted,
// which protects against registration cycles.
const maxConversions = 32

// Upconverter rewrites old event bodies into their current shape on read.
// Conversions are registered explicitly, keyed by the Go type of the body they accept.
type Upconverter struct {
	converters map[reflect.Type]func(any) any
	mu         sync.RWMutex
}

// NewUpconverter creates an empty registration table.
func NewUpconverter() *Upconverter {
	return &Upconverter{converters: map[reflect.Type]func(any) any{}}
}

// Register adds a conversion from From to To.
// It panics if a conversion for From is already registered.
func Register[From, To any](u *Upconverter, convert func(From) To) {
	t := reflect.TypeFor[From]()

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, exists := u.converters[t]; exists {
		panic(fmt.Sprintf("upconverter for %s already registered", t))
	}
	u.converters[t] = func(v any) any {
		return convert(v.(From))
	}
}

// Name implements Hook.
func (u *Upconverter) Name() string { return "upconverter" }

// Select implements Selector. Commits are never dropped.
func (u *Upconverter) Select(_ context.Context, commit es.Commit) (es.Commit, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	if len(u.converters) == 0 {
		return commit, true
	}

	var events []es.EventMessage
	for i, event := range commit.Events {
		body, changed := u.convert(event.Body)
		if !changed {
			if events != nil {
				events[i] = event
			}
			continue
		}
		if events == nil {
			events = make([]es.EventMessage, len(commit.Events))
			copy(events, commit.Events[:i])
		}
		events[i] = event.WithBody(body)
	}
	if events != nil {
		commit.Events = events
	}
	return commit, true
}

// Convert applies registered conversions to body until none matches.
func (u *Upconverter) Convert(body any) any {
	u.mu.RLock()
	defer u.mu.RUnlock()
	converted, _ := u.convert(body)
	return converted
}

func (u *Upconverter) convert(body any) (any, bool) {
	changed := false
	for range maxConversions {
		if body == nil {
			break
		}
		fn, ok := u.converters[reflect.TypeOf(body)]
		if !ok {
			break
		}
		body = fn(body)
		changed = true
	}
	return body, changed
}
