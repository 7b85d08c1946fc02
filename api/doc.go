// Package api defines the HTTP API surface of the provisioning service:
// the request and response payloads exchanged with callers, the typed
// RequestError used at the HTTP boundary, and the Client used by the
// operator CLI.
//
// Handlers for these payloads live in the handlers subpackage; the server
// wiring that mounts them lives in the httpserver package.
package api
