// Package scheduler runs the decision loop.
//
// Each cycle drains quick-start requests, asks every idle job's schedule for
// a priority, ranks the candidates and starts them one by one, re-checking the
// restrictions against the live running set before each start. Execution is
// delegated to internal/task/engine.
package scheduler
