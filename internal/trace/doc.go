// Package trace records what the shape subsystem does at runtime.
//
// Events are grouped by scope, from coarse to fine:
//
//   - ScopeEngine: engine lifecycle and script execution
//   - ScopeManager: dictionary fallbacks, prototype changes, leak checks
//   - ScopeTransition: individual transitions, cache hits and misses
//   - ScopeTable: property table materialization, growth and compaction
//
// A Level selects how deep the recorded scopes go. Tracers travel through
// context:
//
//	ctx = trace.WithTracer(ctx, tr)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeEngine, "run", 0)
//	defer span.End("")
//
// Stream tracers write immediately, ring tracers keep the last N events for
// a post-mortem dump, and Multi fans out to both.
package trace
