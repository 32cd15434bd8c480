// Package config loads server, sandbox and session settings from the
// environment using envconfig. Defaults match Default().
package config
