// Package observability builds the process logger.
//
// Every component receives a *zap.Logger through its constructor; nothing logs
// through a package-level logger.
package observability
