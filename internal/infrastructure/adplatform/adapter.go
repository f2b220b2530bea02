// Package adplatform translates delivery jobs into advertising platform API
// calls and classifies the responses into conversion.SendResult values.
//
// Adapters hold only immutable configuration and a shared *http.Client, so a
// single instance is safe for concurrent use by every worker.
package adplatform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/funnelvalue/conversions/internal/domain/conversion"
	"github.com/funnelvalue/conversions/internal/domain/integration"
)

const (
	// maxResponseSize is the maximum allowed response size from a platform API (10MB)
	maxResponseSize = 10 * 1024 * 1024
	// defaultTimeoutSeconds bounds every provider call
	defaultTimeoutSeconds = 30

	tracerName = "github.com/funnelvalue/conversions/internal/infrastructure/adplatform"
)

// ErrNoAdapter is returned by the registry for a platform without an adapter
var ErrNoAdapter = errors.New("adplatform: no adapter registered for platform")

// Adapter delivers one job to one platform.
// Send never returns a Go error: every failure is classified in the result.
type Adapter interface {
	Platform() conversion.Platform
	Send(ctx context.Context, creds integration.Credentials, job *conversion.DeliveryJob) conversion.SendResult
}

// Registry selects the adapter for a job's platform
type Registry struct {
	adapters map[conversion.Platform]Adapter
}

// NewRegistry creates a registry from the given adapters. Later adapters
// replace earlier ones for the same platform.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[conversion.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

// Get returns the adapter for a platform
func (r *Registry) Get(p conversion.Platform) (Adapter, error) {
	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, p)
	}
	return a, nil
}

// Platforms lists the registered platforms in a stable order
func (r *Registry) Platforms() []conversion.Platform {
	out := make([]conversion.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

// transportFailure classifies an error from http.Client.Do.
// Every transport failure is retryable; timeouts are named as such.
func transportFailure(platform string, err error) conversion.SendResult {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return conversion.Retryable(conversion.ErrorCodeNetwork, "%s: request timed out", platform)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return conversion.Retryable(conversion.ErrorCodeNetwork, "%s: request timed out", platform)
	}
	return conversion.Retryable(conversion.ErrorCodeNetwork, "%s: request failed: %v", platform, err)
}

// startSpan opens a client span around one provider call
func startSpan(ctx context.Context, name string, job *conversion.DeliveryJob) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("conversion.platform", job.Platform.String()),
			attribute.String("conversion.job_key", job.Key()),
			attribute.String("conversion.organization_id", job.OrganizationID),
		),
	)
}

// endSpan records the classified result on the span and ends it
func endSpan(span trace.Span, result conversion.SendResult) {
	span.SetAttributes(
		attribute.Bool("conversion.success", result.Success),
		attribute.Bool("conversion.retryable", result.IsRetryable),
		attribute.Int("conversion.events_accepted", result.ProviderEventsAccepted),
	)
	if result.TraceID != "" {
		span.SetAttributes(attribute.String("provider.trace_id", result.TraceID))
	}
	if !result.Success {
		span.SetAttributes(attribute.String("conversion.error_code", string(result.ErrorCode)))
		span.SetStatus(codes.Error, string(result.ErrorCode))
	}
	span.End()
}
