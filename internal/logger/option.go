package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// leveledCore filters entries with its own level instead of the wrapped core's.
type leveledCore struct {
	zapcore.Core

	level zapcore.Level
}

// Enabled reports whether entries at l pass this core's level.
func (c *leveledCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l)
}

// Check adds the core to ce when the entry level is enabled.
//
//nolint:gocritic // AddCore requires ent to be passed by value.
func (c *leveledCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

// With keeps the level on derived cores.
//
//nolint:ireturn,nolintlint // Returning zapcore.Core is intended for zap integration.
func (c *leveledCore) With(fields []zapcore.Field) zapcore.Core {
	return &leveledCore{
		Core:  c.Core.With(fields),
		level: c.level,
	}
}

// WithLevel is a zap option that pins the logger to lvl, ignoring the global level.
//
//nolint:ireturn,nolintlint // Returning zap.Option is intended for zap integration.
func WithLevel(lvl zapcore.Level) zap.Option {
	return zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &leveledCore{Core: core, level: lvl}
	})
}

// WithComponentLevel returns a context whose logger is named and pinned to the
// level called name. Unknown level names leave the logger on the global level.
func WithComponentLevel(ctx context.Context, name, level string) context.Context {
	ctx = WithName(ctx, name)

	if level == "" {
		return ctx
	}

	lvl, ok := ParseLogLevel(level)
	if !ok {
		Warnf(ctx, "Unknown log level %q, keeping the global level", level)

		return ctx
	}

	return ToContext(ctx, FromContext(ctx).WithOptions(WithLevel(lvl)))
}
