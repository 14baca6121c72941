// Package logging provides the structured logging used across the gateway.
//
// It wraps a single process-wide slog.Logger behind a small subsystem-tagged
// API (Debug/Info/Warn/Error) plus an Audit helper for security-sensitive
// events (auth failures, policy denials, credential fetch failures) that
// emit a filterable "[AUDIT]" line. Call InitForCLI once at startup before
// any other package logs.
package logging
