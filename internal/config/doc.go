// Package config loads, normalizes, and validates iencode configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file and honours
// IENCODE_* environment fallbacks for secrets such as the API token, store DSN
// and S3 credentials. The Config type centralizes every knob the daemon and CLI
// need: pool size, lane depth limits, progress throttling, stage timeouts and
// retries, and the store, encoder and publish backends.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical driver names, and clear validation errors.
package config
