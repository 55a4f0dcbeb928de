// Package logx configures quizbot's structured logging.
//
// Logger is a small wrapper on top of zerolog:
//   - console output stays readable (short timestamp + short caller)
//   - file output is JSON
//   - an optional Telegram sink forwards warnings to the operator log chat
//     with a minimum level and a rate limit
package logx
