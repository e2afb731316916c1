/*
Package server hosts the runtime's single HTTP listener: webhook ingress at
POST /webhook/{source}, the loopback control API under /control/, the
Prometheus endpoint at /metrics, and a websocket stream of phase records at
/control/events.

Control errors are returned as JSON {"error": ...} with conventional status
codes; unknown webhook sources get 404 and non-POST webhook calls 405.
*/
package server
