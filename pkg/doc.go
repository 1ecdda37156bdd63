// Package pkg provides shared utilities for the usbcrypt driver.
//
// It holds the pieces every other package leans on:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors and their transient/fatal classification
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component tag:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentSession, "token reset", "drained", 64)
//
// # Errors
//
// Transfer outcomes are sentinel values. The response collector retries
// only what [IsTransient] accepts:
//
//	if pkg.IsTransient(err) {
//	    // token not ready yet, try again
//	}
package pkg
