package logger

import (
	"os"
	"sync"

	"github.com/Laisky/zap"
	"github.com/Laisky/zap/zapcore"
)

// Logger is the shared structured logger. It defaults to an info-level
// console logger and is rebuilt by SetupLogger once configuration is loaded.
var Logger *zap.Logger

var setupOnce sync.Once

func init() {
	Logger = newLogger(false)
}

// SetupLogger rebuilds the shared logger with the configured verbosity.
// Safe to call multiple times; only the first call takes effect.
func SetupLogger(debug bool) {
	setupOnce.Do(func() {
		Logger = newLogger(debug)
	})
}

func newLogger(debug bool) *zap.Logger {
	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "ts"

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stdout),
		level,
	)
	return zap.New(core, zap.AddCaller())
}
