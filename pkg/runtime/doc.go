/*
Package runtime is the composition root of the orgloop daemon.

The Runtime owns the shared infrastructure — event bus (in-memory or
WAL-backed), scheduler, checkpoint store, phase-record fan-out, HTTP server
and module registry — and exposes the control surface: load, unload,
reload, inject, status, stop.

On module activation the runtime subscribes a routing handler filtered by
the module's tag. The handler matches routes, fans the event out to one
serialized worker per route (pipeline then delivery), and acks the event on
the bus once every matching route finished with it. Reload holds the
lifecycle lock for its whole duration, so module listings (ListModules,
Status) never show the module as absent between the implied unload and
load; ModuleStatus and Inject do not take that lock.
*/
package runtime
