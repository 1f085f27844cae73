// Package process provides subprocess lifecycle management.
//
// Process wraps os/exec for supervising a single subprocess:
//   - Graceful shutdown with SIGINT and configurable timeout
//   - Force kill with SIGKILL if graceful shutdown times out
//   - Stdout streaming with pluggable log parsing
//   - Stderr tail retention for crash reporting
package process
