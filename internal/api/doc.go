// Package api exposes the HTTP surface of the engine: submitting wishes,
// confirming proposals, supplying credentials and one-time codes, and
// inspecting execution status and logs.
package api
