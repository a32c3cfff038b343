// Package config handles configuration loading for agentdeck.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults: a server started with
// no config file listens on localhost:4000 and stores events in ./events.db.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from AGENTDECK_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/agentdeck/agentdeck.yaml
//  3. ~/.config/agentdeck/agentdeck.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${AGENTDECK_DB_PATH}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	sweeper:
//	  interval: "10s"
//	hitl:
//	  callback_timeout: "5s"
//
// Supported units: ns, us, ms, s, m, h
package config
