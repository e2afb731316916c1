/*
Package types defines the shared data model for the orgloop runtime.

The central type is Event, the canonical immutable unit of work flowing from
sources through routes and transforms to actors. The package also holds the
declarative configuration structs (Route, TransformDef, ModuleConfig), the
per-source health record, module lifecycle states, and the phase-record
taxonomy emitted to configured loggers.

Field paths such as "provenance.author_type" or "payload.bot" are resolved
with Event.Lookup, which traverses nested mappings and reports missing
segments as an absent value rather than an error.
*/
package types
