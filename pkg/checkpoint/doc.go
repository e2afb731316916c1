// Package checkpoint stores durable per-source resume tokens. A checkpoint
// is written only after every event of a poll was accepted by the bus, so a
// crash between publish and persist re-polls from the prior token — the
// at-least-once side of the delivery guarantee.
//
// Tokens for all modules live in one shared BoltDB file under
// module-prefixed keys; module state snapshots live as files in the
// per-module directories (pkg/state).
package checkpoint
