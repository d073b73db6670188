// Package config loads the agentd configuration from a JSON or YAML file,
// fills in defaults and resolves relative paths against the file's
// directory.
package config
