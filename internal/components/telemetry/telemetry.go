package telemetry

import (
	"fmt"
)

// API is an abstraction over logging/metrics.
// This allows for assertions and tests for working logging/metrics to exist.
//
// note: fault injection point
type API interface {
	// ReportBroken reports a component that has broken in a way that should be addressed.
	//
	// The `id` should indicate what **component** broke, not what specific piece of the
	// implementation of a component broke. ex. a failed page load while fetching a quote page
	// should be reported as `fetcher.fetch`, the url and the cause go into the params.
	//
	// Formatting rules:
	// 1) all lowercase
	// 2) use underscores for large components
	// 3) use dashes for methods part of a larger component
	ReportBroken(id string, params ...any)

	// ReportWarning reports a scenario that does not necessarily indicate brokenness, but may be subject to investigation
	//
	// For what value to provide as `id` refer to ReportBroken.
	ReportWarning(id string, params ...any)

	// ReportDebug reports some debug information that will be ignored in production
	ReportDebug(msg string, params ...any)

	// ReportCount reports the current count of a specific event at the current time, these counts should
	// not be summed but interpreted as points of data over time.
	//
	// For what value to provide as `id` refer to ReportBroken.
	ReportCount(id string, count int64)
}

// KV is a named param, it is rendered as `key=value` instead of a positional param.
type KV struct {
	Key   string
	Value any
}

// ScopedAPI is a telemetry API that attaches a namespace for a given API, kind of like creating a
// "sub" logger using things like log.New(), in which you can define the prefix for the logs.
type ScopedAPI struct {
	namespace string
	inner     API
}

// NewScopedAPI creates a ScopedAPI out of a given namespace and another api.
func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(fmt.Sprintf("%s: %s", s.namespace, msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(fmt.Sprintf("%s: %s", s.namespace, id), count)
}

// AttrsAPI appends a fixed set of named params to every report of an API, ex. the
// id of the current run. Counts carry no params and are passed through as is.
type AttrsAPI struct {
	attrs []any
	inner API
}

func NewAttrsAPI(inner API, attrs ...KV) AttrsAPI {
	params := make([]any, len(attrs))
	for i, kv := range attrs {
		params[i] = kv
	}
	return AttrsAPI{attrs: params, inner: inner}
}

func (a AttrsAPI) with(params []any) []any {
	out := make([]any, 0, len(params)+len(a.attrs))
	out = append(out, params...)
	return append(out, a.attrs...)
}

func (a AttrsAPI) ReportBroken(id string, params ...any) {
	a.inner.ReportBroken(id, a.with(params)...)
}

func (a AttrsAPI) ReportWarning(id string, params ...any) {
	a.inner.ReportWarning(id, a.with(params)...)
}

func (a AttrsAPI) ReportDebug(msg string, params ...any) {
	a.inner.ReportDebug(msg, a.with(params)...)
}

func (a AttrsAPI) ReportCount(id string, count int64) {
	a.inner.ReportCount(id, count)
}
