// Package api exposes the ledger over HTTP: transaction submission through
// the pool, read-only views of agents and accounts, recent events, dry-run
// calls and the Prometheus scrape endpoint.
package api
