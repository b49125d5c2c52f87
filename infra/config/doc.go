// Package config holds the server configuration. Values come from a
// YAML file and command-line flags; flags win.
package config
