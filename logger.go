package authstate

import (
	"context"
	"fmt"
)

// Logger is the leveled logging contract used across the package. It is
// aligned with go-logger's glog.Logger so applications can pass their
// existing loggers straight through.
type Logger interface {
	Trace(message string, args ...any)
	Debug(message string, args ...any)
	Info(message string, args ...any)
	Warn(message string, args ...any)
	Error(message string, args ...any)
	Fatal(message string, args ...any)
	WithContext(ctx context.Context) Logger
}

// LoggerProvider resolves named, scoped loggers. Applications wrap their
// logging setup with LoggerProviderFunc, adapting printf-style loggers
// through FromLegacyLogger where needed.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// LoggerProviderFunc adapts a function to the LoggerProvider interface.
type LoggerProviderFunc func(name string) Logger

// GetLogger implements LoggerProvider.
func (f LoggerProviderFunc) GetLogger(name string) Logger {
	if f == nil {
		return defaultLogger()
	}
	return f(name)
}

// LegacyLogger is the printf-style contract older integrations expose.
type LegacyLogger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// ResolveLogger picks a scoped logger from provider, falling back to logger
// when the provider is missing or returns nil. The returned provider always
// yields a usable logger for the same name.
func ResolveLogger(name string, provider LoggerProvider, fallback Logger) (LoggerProvider, Logger) {
	if fallback == nil {
		fallback = defaultLogger()
	}

	resolved := fallback
	if provider != nil {
		if scoped := provider.GetLogger(name); scoped != nil {
			resolved = scoped
		}
	}

	return &fallbackProvider{provider: provider, fallback: resolved}, resolved
}

type fallbackProvider struct {
	provider LoggerProvider
	fallback Logger
}

func (p *fallbackProvider) GetLogger(name string) Logger {
	if p.provider != nil {
		if scoped := p.provider.GetLogger(name); scoped != nil {
			return scoped
		}
	}
	return p.fallback
}

// FromLegacyLogger adapts a printf-style logger to the Logger contract.
// Trace maps to Debug and Fatal to Error since the legacy contract has no
// equivalent levels. A nil input resolves to a safe no-op logger.
func FromLegacyLogger(legacy LegacyLogger) Logger {
	if legacy == nil {
		return noopLogger{}
	}
	return &legacyAdapter{legacy: legacy}
}

type legacyAdapter struct {
	legacy LegacyLogger
}

func (l *legacyAdapter) Trace(message string, args ...any) { l.legacy.Debug(message, args...) }
func (l *legacyAdapter) Debug(message string, args ...any) { l.legacy.Debug(message, args...) }
func (l *legacyAdapter) Info(message string, args ...any)  { l.legacy.Info(message, args...) }
func (l *legacyAdapter) Warn(message string, args ...any)  { l.legacy.Warn(message, args...) }
func (l *legacyAdapter) Error(message string, args ...any) { l.legacy.Error(message, args...) }
func (l *legacyAdapter) Fatal(message string, args ...any) { l.legacy.Error(message, args...) }
func (l *legacyAdapter) WithContext(context.Context) Logger {
	return l
}

type noopLogger struct{}

func (noopLogger) Trace(string, ...any)               {}
func (noopLogger) Debug(string, ...any)               {}
func (noopLogger) Info(string, ...any)                {}
func (noopLogger) Warn(string, ...any)                {}
func (noopLogger) Error(string, ...any)               {}
func (noopLogger) Fatal(string, ...any)               {}
func (noopLogger) WithContext(context.Context) Logger { return noopLogger{} }

type defLogger struct{}

func (defLogger) Trace(message string, args ...any) { printLog("TRC", message, args...) }
func (defLogger) Debug(message string, args ...any) { printLog("DBG", message, args...) }
func (defLogger) Info(message string, args ...any)  { printLog("INF", message, args...) }
func (defLogger) Warn(message string, args ...any)  { printLog("WRN", message, args...) }
func (defLogger) Error(message string, args ...any) { printLog("ERR", message, args...) }
func (defLogger) Fatal(message string, args ...any) { printLog("FTL", message, args...) }
func (d defLogger) WithContext(context.Context) Logger {
	return d
}

func printLog(level, message string, args ...any) {
	line := fmt.Sprintf("[%s] AUTHSTATE %s", level, message)
	if len(args) > 0 {
		line = fmt.Sprintf("%s %v", line, args)
	}
	fmt.Println(line)
}

func defaultLogger() Logger {
	return defLogger{}
}

func normalizeLogger(logger Logger) Logger {
	if logger == nil {
		return defaultLogger()
	}
	return logger
}
