// Package panel owns the single alarm state aggregate and the transition operations
// that are its only legal mutators.
//
// Every mutation runs under one exclusive lock. Callers that need several operations
// in one critical section, such as the rule engine, use Panel.Do and the Tx it passes.
// Expired timers are resolved lazily whenever the aggregate is touched for writing.
package panel
