package logger

// defLogger is the package-level logger used by code that does not carry
// its own Logger.
var defLogger = NewSlog(InfoLevel, false)

// GetLogger returns the package-level default logger.
func GetLogger() Logger {
	return defLogger
}

// SetLevel changes the default logger's level.
func SetLevel(level Level) {
	defLogger.SetLevel(level)
}

// With returns a child of the default logger with the given fields.
func With(keyValues ...any) Logger {
	return defLogger.With(keyValues...)
}

func Debug(msg string, keysAndValues ...any) {
	defLogger.Debug(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...any) {
	defLogger.Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	defLogger.Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	defLogger.Error(msg, keysAndValues...)
}

func Fatal(msg string, keysAndValues ...any) {
	defLogger.Fatal(msg, keysAndValues...)
}
