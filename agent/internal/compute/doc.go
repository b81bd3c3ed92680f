// Package compute derives broker health from successive /metrics samples.
//
// score.go provides the pure Compute(Input) function: a 0–100 score built
// from the rejection percentage (40%), the drain percentage (40%) and the
// scrape uptime (20%).
//
// engine.go keeps the previous sample and turns counter deltas into
// per-minute rates. Engine.Process takes the sample time explicitly so tests
// are deterministic.
//
// Health states: Healthy ≥85, Degraded 60–84, Critical <60, Unknown.
package compute
