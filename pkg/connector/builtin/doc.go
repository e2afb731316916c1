// Package builtin registers the connectors that ship with the runtime: a
// generic webhook source, an HTTP delivery actor, and console/file phase
// loggers. Import for side effects to make these kinds resolvable from
// module bundles.
package builtin
