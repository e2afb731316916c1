// Package phaselog is the fan-out that delivers structured phase records
// (source.emit, route.match, transform.*, deliver.*) to every configured
// logger and to any live watchers.
package phaselog
