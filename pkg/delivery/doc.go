// Package delivery invokes target actors with a hard timeout and records
// deliver.attempt / deliver.success / deliver.failure phases.
package delivery
