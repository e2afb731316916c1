// Package config loads module bundles from YAML, validates their structure
// and cross-references, and resolves connector kinds into instances.
package config
