// Package server hosts the streamgate API and admin console from a single
// HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// metrics, rate limiting, and security headers so handlers all share common
// protections and instrumentation. API routes and the embedded admin assets
// sit behind one multiplexer.
package server
