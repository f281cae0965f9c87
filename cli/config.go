// Package cli provides the command-line interface for reactive.
// This file re-exports config types from internal/config for public API.
package cli

import (
	"github.com/zot/reactive/internal/config"
)

// Re-export config types for public API
type (
	Config        = config.Config
	ServerConfig  = config.ServerConfig
	ScriptConfig  = config.ScriptConfig
	BatchConfig   = config.BatchConfig
	LoggingConfig = config.LoggingConfig
	Duration      = config.Duration
)

// Re-export config functions for public API
var (
	DefaultConfig = config.DefaultConfig
	LoadConfig    = config.Load
)
