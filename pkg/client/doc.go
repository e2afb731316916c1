// Package client implements the loopback HTTP client for the runtime's
// control API, used by the CLI subcommands.
package client
