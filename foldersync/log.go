package foldersync

// ExternalLogger defines the minimal logger this package can use.
// Implemented by the app's structured logger.
type ExternalLogger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

var extLogger ExternalLogger

// SetLogger allows the application to inject a structured logger.
func SetLogger(l ExternalLogger) {
	extLogger = l
}

func logError(msg string, context ...interface{}) {
	if extLogger != nil {
		extLogger.Error(msg, context...)
	}
}

func logWarn(msg string, context ...interface{}) {
	if extLogger != nil {
		extLogger.Warn(msg, context...)
	}
}

func logInfo(msg string, context ...interface{}) {
	if extLogger != nil {
		extLogger.Info(msg, context...)
	}
}

func logDebug(msg string, context ...interface{}) {
	if extLogger != nil {
		extLogger.Debug(msg, context...)
	}
}
