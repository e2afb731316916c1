/*
Package module holds the per-module state: an Instance bundles one named
workload's connectors, routes and health, moving through loading -> active
-> unloading -> removed; the Registry maps names to instances and enforces
the singleton rule.

Initialization is all-or-nothing — reaching activation means every declared
connector initialized. Shutdown is best-effort and visits every connector
regardless of individual failures.
*/
package module
