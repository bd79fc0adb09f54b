package logger

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Log   *zap.Logger
	Sugar *zap.SugaredLogger
)

// logFileName picks the role-based log file SPEC_FULL §2 calls for
// (filemesh-tracker.log / filemesh-peer.log). The role is taken from
// FILEMESH_ROLE if set, otherwise from the cobra subcommand name in
// os.Args, since this runs before cobra has parsed anything.
func logFileName() string {
	role := strings.TrimSpace(os.Getenv("FILEMESH_ROLE"))
	if role == "" {
		for _, arg := range os.Args[1:] {
			switch arg {
			case "tracker", "peer":
				role = arg
			}
			if role != "" {
				break
			}
		}
	}
	switch role {
	case "tracker":
		return "logs/filemesh-tracker.log"
	case "peer":
		return "logs/filemesh-peer.log"
	default:
		return "logs/filemesh.log"
	}
}

func init() {
	// Create logs directory if it doesn't exist
	if err := os.MkdirAll("logs", 0755); err != nil {
		panic(err)
	}

	// Open log file
	file, err := os.OpenFile(logFileName(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		panic(err)
	}

	// Custom encoder config for file output
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("2006/01/02 15:04:05"))
	}
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	// Use ConsoleEncoder for human-readable output in file
	fileEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	level := zapcore.InfoLevel
	levelStr := strings.TrimSpace(os.Getenv("FILEMESH_LOG_LEVEL"))
	if levelStr == "" {
		levelStr = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	}
	if levelStr != "" {
		_ = level.UnmarshalText([]byte(strings.ToLower(levelStr)))
	}

	core := zapcore.NewCore(
		fileEncoder,
		zapcore.AddSync(file),
		level,
	)

	// AddCaller ensures the log includes filename and line number
	Log = zap.New(core, zap.AddCaller())
	Sugar = Log.Sugar()
}
