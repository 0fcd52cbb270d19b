package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FieldService names the process in every entry, so entries of serve and one-off commands can be told apart.
const FieldService = "service"

type Options struct {
	JSON  bool
	Debug bool
	// Service is attached to every entry when set.
	Service string
	// Output defaults to stdout.
	Output []string
}

// New builds the process logger.
func New(opts Options) (*zap.Logger, error) {
	logger, err := config(opts).Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

func config(opts Options) zap.Config {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	encoding := "console"
	if opts.JSON {
		encoding = "json"
	}

	output := opts.Output
	if len(output) == 0 {
		output = []string{"stdout"}
	}

	cfg := zap.Config{
		Encoding:         encoding,
		Level:            zap.NewAtomicLevelAt(level),
		OutputPaths:      output,
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "step",

			LevelKey:    "level",
			EncodeLevel: zapcore.LowercaseLevelEncoder,

			TimeKey:        "time",
			EncodeTime:     zapcore.RFC3339TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,

			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,
		},
	}

	if opts.Service != "" {
		cfg.InitialFields = map[string]any{FieldService: opts.Service}
	}

	return cfg
}
