// Package api implements the HTTP REST API and WebSocket server for Ward Core.
//
// This package provides:
//   - REST endpoints for device registration, commands, and status
//   - Power sample ingestion with anomaly checking
//   - Override lifecycle endpoints, including emergency shutdown
//   - Failure record and feature flag introspection
//   - WebSocket hub for real-time event broadcasts
//   - Middleware stack (request ID, logging, recovery, CORS, auth)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between operator interfaces and the command
// gateway. Commands flow from the API through the gateway to the remote
// device API over MQTT; state changes and lifecycle events flow back and
// are broadcast to WebSocket clients.
//
// # Security
//
// Authentication uses HS256-signed JWT bearer tokens. An empty JWT
// secret disables authentication entirely (development mode). WebSocket
// connections authenticate via a token query parameter since browsers
// cannot set headers on upgrade requests.
//
// # Graceful Degradation
//
// The server operates without MQTT — reads against the state cache and
// WebSocket connections keep working, only live device traffic fails.
package api
