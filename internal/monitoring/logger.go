package monitoring

import (
	"log"

	"go.uber.org/zap"
)

// Logf is the package-level diagnostic logger used by the search runner,
// the serial devices and the run log. It defaults to log.Printf but may be
// replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// NewLogger builds the zap logger used by the command line tools. Debug
// selects zap's development config (console encoding, debug level).
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// UseZap routes Logf through l at info level.
func UseZap(l *zap.Logger) {
	if l == nil {
		SetLogger(nil)
		return
	}
	SetLogger(l.Sugar().Infof)
}
