// Package logger provides structured logging for qumap.
//
// This package wraps log/slog for structured logging:
//
//   - logger.go: handler configuration and level control
//   - context.go: context-aware logging with request/trace IDs
//   - redact.go: sensitive data redaction
//
// Features:
//
//   - JSON and text output formats
//   - Log level filtering with runtime adjustment
//   - Automatic masking of key material and passphrases
//   - Context propagation for request tracing
package logger
