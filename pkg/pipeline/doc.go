/*
Package pipeline applies a route's ordered transforms to an event.

Each step runs under a hard timeout and emits transform.start followed by
exactly one terminal phase. Errors resolve against the step's error policy:
pass continues with the event unchanged, drop ends the event's journey, and
halt aborts the pipeline and surfaces a fatal transform error to the
runtime.

Script-kind transforms are executed here as one external process per event,
with the event on stdin and SOURCE/TARGET/EVENT_TYPE/EVENT_ID/ROUTE in the
environment.
*/
package pipeline
