// Package config provides centralized configuration management for the
// simulator. It loads the server, logging, telemetry, model, data and output
// settings from several sources, validates them, and exposes a typed API.
//
// # Configuration Sources
//
// Configuration is assembled in order of increasing precedence:
//
//	1. Built-in defaults (Default, DefaultModel)
//	2. A YAML file: $SEIR_CONFIG_FILE, config.yaml or configs/config.yaml
//	3. Environment variables with the SEIR_ prefix
//
// # Environment Variables
//
// Nested sections map to underscore-joined names:
//
//	SEIR_SERVER_PORT=9090
//	SEIR_LOGGING_LEVEL=debug
//	SEIR_MODEL_R0=3.1
//	SEIR_MODEL_LOCKDOWN_FACTORS=0,0,0,0,0,0,1,1,1
//	SEIR_OUTPUT_FORMATS=dat,xlsx,png
//
// # Scenarios
//
// A scenario is a YAML document holding only model keys. LoadScenario
// overlays it on a base ModelConfig and validates the result; unknown keys
// are rejected. Scenarios are data, never code.
//
// # Validation
//
// Validation uses go-playground/validator struct tags. Every failure is
// returned as a CONFIGURATION AppError naming the offending fields.
package config
