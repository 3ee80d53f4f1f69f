// Package channel delivers alerts to external backends.
//
// Every backend implements Channel and is registered explicitly in a
// Registry. Executor wraps sends with dry-run, a store-backed
// consecutive-failure breaker, per-channel rate limiting and a per-channel
// timeout. Backends validate configuration before any network I/O and never
// put credential values in errors or logs.
package channel
