// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import "context"

// Tracer starts spans for a named instrumentation scope (e.g. one per
// package: "jobrunner.steprunner", "jobrunner.maintainer").
type Tracer interface {
	Start(ctx context.Context, name string, opts ...SpanOption) (context.Context, SpanHandle)
}

// SpanHandle is a started span awaiting completion.
type SpanHandle interface {
	End(opts ...SpanEndOption)
	SetStatus(code StatusCode, message string)
	SetAttributes(attrs map[string]any)
	AddEvent(name string, attrs map[string]any)
	SpanContext() TraceContext
	RecordError(err error)
}

// SpanKind classifies a span's relationship to its caller/callee.
type SpanKind int

const (
	SpanKindUnspecified SpanKind = iota
	SpanKindInternal
	SpanKindClient
	SpanKindServer
	SpanKindProducer
	SpanKindConsumer
)

// SpanConfig accumulates options passed to Tracer.Start.
type SpanConfig struct {
	SpanKind   SpanKind
	Attributes map[string]any
	Timestamp  *int64 // unix nanos, nil means "now"
}

// SpanOption configures a started span.
type SpanOption interface {
	ApplySpanOption(cfg *SpanConfig)
}

type spanOptionFunc func(cfg *SpanConfig)

func (f spanOptionFunc) ApplySpanOption(cfg *SpanConfig) { f(cfg) }

// WithSpanKind sets the span's kind.
func WithSpanKind(kind SpanKind) SpanOption {
	return spanOptionFunc(func(cfg *SpanConfig) { cfg.SpanKind = kind })
}

// WithSpanAttributes sets the span's starting attributes.
func WithSpanAttributes(attrs map[string]any) SpanOption {
	return spanOptionFunc(func(cfg *SpanConfig) { cfg.Attributes = attrs })
}

// SpanEndConfig accumulates options passed to SpanHandle.End.
type SpanEndConfig struct {
	Timestamp *int64
}

// SpanEndOption configures how a span ends.
type SpanEndOption interface {
	ApplySpanEndOption(cfg *SpanEndConfig)
}

// StatusCode is a span's final disposition.
type StatusCode int

const (
	StatusCodeUnset StatusCode = iota
	StatusCodeOK
	StatusCodeError
)

// TraceContext identifies a span's position in a distributed trace.
type TraceContext struct {
	TraceID    string
	SpanID     string
	TraceFlags byte
	TraceState string
}
