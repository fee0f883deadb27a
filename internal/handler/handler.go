// Package handler defines the event handler interface for tara and the
// registry the entrypoints dispatch through.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/tara/internal/telemetry"
)

// Handler is the interface every remediation handler implements.
type Handler interface {
	// Name returns the registry name (e.g. "ebs-idle-volume").
	Name() string

	// Handle processes one raw event and returns a JSON-serializable result.
	Handle(ctx context.Context, raw json.RawMessage) (any, error)
}

// Func adapts a function to a Handler.
type Func struct {
	ID string
	Fn func(ctx context.Context, raw json.RawMessage) (any, error)
}

// Name implements Handler.
func (f Func) Name() string { return f.ID }

// Handle implements Handler.
func (f Func) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	return f.Fn(ctx, raw)
}

// Registry holds registered handlers.
var (
	registry = make(map[string]Handler)
	mu       sync.RWMutex
)

// Register adds a handler to the registry, replacing any with the same name.
func Register(h Handler) {
	mu.Lock()
	defer mu.Unlock()
	registry[h.Name()] = h
}

// Get returns a handler by name.
func Get(name string) (Handler, bool) {
	mu.RLock()
	defer mu.RUnlock()
	h, ok := registry[name]
	return h, ok
}

// All returns all registered handlers sorted by name.
func All() []Handler {
	mu.RLock()
	defer mu.RUnlock()
	handlers := make([]Handler, 0, len(registry))
	for _, h := range registry {
		handlers = append(handlers, h)
	}
	sort.Slice(handlers, func(i, j int) bool { return handlers[i].Name() < handlers[j].Name() })
	return handlers
}

// Names returns all registered handler names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all handlers from the registry. Used for testing.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Handler)
}

// Runner invokes handlers inside a span and records invocation metrics.
type Runner struct {
	Tracer  trace.Tracer
	Metrics *telemetry.Metrics
}

// Invoke looks up name in the registry and runs it.
func (r *Runner) Invoke(ctx context.Context, name string, raw json.RawMessage) (any, error) {
	h, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown handler %q (registered: %v)", name, Names())
	}
	return r.Run(ctx, h, raw)
}

// Run executes h once.
func (r *Runner) Run(ctx context.Context, h Handler, raw json.RawMessage) (any, error) {
	tracer := r.Tracer
	if tracer == nil {
		tracer = otel.Tracer("tara")
	}

	ctx, span := tracer.Start(ctx, "handler."+h.Name(),
		trace.WithAttributes(attribute.String("handler", h.Name())))
	defer span.End()

	start := time.Now()
	result, err := h.Handle(ctx, raw)
	elapsed := time.Since(start)
	r.Metrics.RecordInvocation(ctx, h.Name(), elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Ctx(ctx).Err(err).
			Str("handler", h.Name()).
			Dur("duration", elapsed).
			Msg("handler failed")
		return nil, err
	}

	log.Info().Ctx(ctx).
		Str("handler", h.Name()).
		Dur("duration", elapsed).
		Msg("handler completed")
	return result, nil
}
