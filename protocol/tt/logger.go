package tt

import (
	"go.uber.org/zap"
)

// MustCreateTestLogger returns a development logger for tests.
func MustCreateTestLogger() *zap.Logger {
	return MustCreateTestLoggerWithConfig(loggerConfig())
}

func MustCreateTestLoggerWithConfig(cfg zap.Config) *zap.Logger {
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return l
}

func loggerConfig() zap.Config {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	return cfg
}
