// Package harness provides a conformance testing framework for the smart
// protocol server.
//
// Scenarios are YAML files that seed an in-memory backend with branches and
// revisions, then drive a sequence of verb calls through the dispatcher and
// assert on the responses. Lock tokens come from a fixed generator, so the
// tokens appearing in expectations are stable across runs.
//
// The harness exercises the real request lifecycle (dispatch, body
// accumulation, error translation); only the storage backend is swapped for
// the in-memory one.
package harness
