// Package config loads the wsclient YAML configuration.
//
// Values may reference environment variables as ${VAR}. Load parses the
// file as-is, LoadWithDefaults fills unset fields, and LoadAndValidate
// additionally checks required fields and ranges.
package config
