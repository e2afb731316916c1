// Package log configures the process-wide zerolog diagnostic logger and
// hands out child loggers scoped by component, module or source. The level
// is bound to this logger, not zerolog's global state, and output is
// discarded until Init runs. Event phase records do not go through here;
// they flow through the phaselog fan-out to configured loggers.
package log
