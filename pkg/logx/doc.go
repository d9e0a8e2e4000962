// Package logx configures structured logging for datealerts.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional chat sink for operators (min-level + rate limiting)
package logx
