// Package logger wraps zap for the alarm panel processes.
//
// It keeps one global sugared logger with a console encoder, stores scoped
// loggers in a context (WithName/WithKV) and offers leveled helpers such as
// InfoKV or Errorf that always resolve the logger from the context.
package logger
