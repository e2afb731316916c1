/*
Package health tracks per-source poll health and drives the circuit breaker.

A source moves healthy -> degraded on its first error, back to healthy on
the first success, and to unhealthy once consecutive errors reach the
failure threshold — at which point the circuit opens and polling is skipped
until the retry deadline, when a single probe is allowed. A failed probe
re-arms the deadline; a successful one closes the circuit.

Webhook-driven sources do not participate: their handler errors are logged
but never open a circuit.
*/
package health
