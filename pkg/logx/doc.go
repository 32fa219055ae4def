// Package logx configures lanesched's structured logging.
//
// Components log through logx.Logger, a small value type on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - Throttle bounds noisy warnings (lane backlog, pool spill) with a token bucket
package logx
