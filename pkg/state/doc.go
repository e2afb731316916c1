// Package state manages the runtime's on-disk layout under a per-user data
// dir: the pid and control-port files, and one directory per module holding
// that module's state.json snapshot (and any connector-local files such as
// log output or local queues).
package state
