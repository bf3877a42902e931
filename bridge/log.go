package bridge

import "fmt"

// ExternalLogger defines the minimal logger the bridge package can use.
// Implemented by the app's structured logger. Kept small to avoid tight coupling.
type ExternalLogger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

var extLogger ExternalLogger

// SetLogger allows the application to inject a structured logger.
// When unset, messages go to stdout.
func SetLogger(l ExternalLogger) {
	extLogger = l
}

func logInfo(msg string, context ...interface{}) {
	if extLogger != nil {
		extLogger.Info(msg, context...)
		return
	}
	fallback("INFO", msg, context...)
}

func logWarn(msg string, context ...interface{}) {
	if extLogger != nil {
		extLogger.Warn(msg, context...)
		return
	}
	fallback("WARN", msg, context...)
}

func logError(msg string, context ...interface{}) {
	if extLogger != nil {
		extLogger.Error(msg, context...)
		return
	}
	fallback("ERROR", msg, context...)
}

func logDebug(msg string, context ...interface{}) {
	if extLogger != nil {
		extLogger.Debug(msg, context...)
	}
	// no fallback: debug is opt-in via the injected logger
}

func fallback(level, msg string, context ...interface{}) {
	if len(context) > 0 {
		msg = fmt.Sprintf("%s %v", msg, context)
	}
	fmt.Printf("[%s] %s\n", level, msg)
}
