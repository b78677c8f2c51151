// Package config loads the service configuration from a TOML file, an
// optional .env file and the process environment.
package config
