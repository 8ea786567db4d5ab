package bridge

import "sync"

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// logHolder carries an optional, swappable logger.
type logHolder struct {
	logger   Logger
	loggerMu sync.RWMutex
}

// SetLogger sets the logger. A nil logger silences output.
func (h *logHolder) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

func (h *logHolder) getLogger() Logger {
	h.loggerMu.RLock()
	defer h.loggerMu.RUnlock()
	return h.logger
}

func (h *logHolder) logDebug(msg string, keysAndValues ...any) {
	if logger := h.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (h *logHolder) logInfo(msg string, keysAndValues ...any) {
	if logger := h.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (h *logHolder) logWarn(msg string, keysAndValues ...any) {
	if logger := h.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (h *logHolder) logError(msg string, err error, keysAndValues ...any) {
	if logger := h.getLogger(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
