// Package governance holds the runtime safety primitives shared by the
// toolkit: token-bucket rate limiting for inbound routes and circuit
// breaking with retry policies for outbound calls. The public middleware
// and client packages compose these without exposing their internals.
package governance
