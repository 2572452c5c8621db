// Package config provides configuration loading and validation for the meeting
// audio service. Configuration is read from YAML, completed with defaults and
// secret overrides from the environment, then validated section by section.
package config
