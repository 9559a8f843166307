// Package server provides the HTTP server implementation for the CodeLoom API.
//
// The server exposes the conversation core over a small RESTful surface:
// session lifecycle, prompt submission, permission replies, and a unified
// real-time event stream.
//
// # Core Components
//
//   - HTTP Server: Chi-based router with middleware for CORS, logging, and recovery
//   - Session Management: create, list, update, and abort conversation sessions
//   - Run Submission: prompt submission with single-active-run enforcement
//   - Permission Replies: listing and resolving pending tool permission requests
//   - Event Streaming: Server-Sent Events (SSE) for real-time updates
//
// # API Endpoints
//
//   - /session/*: session lifecycle, messaging, abort, and permissions
//   - /event: real-time event streaming via SSE
//
// Responses use a uniform JSON error envelope; see response.go for the error
// codes the handlers map onto HTTP statuses.
package server
