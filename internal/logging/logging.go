package logging

import (
	"io"
	"os"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/sirupsen/logrus"
)

// Setup configures the standard logrus logger from cfg and returns it.
// Components derive their loggers with Component.
func Setup(cfg config.GeneralConfig) *logrus.Logger {
	return configure(logrus.StandardLogger(), cfg, os.Stderr)
}

func configure(l *logrus.Logger, cfg config.GeneralConfig, out io.Writer) *logrus.Logger {
	l.SetOutput(out)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	if cfg.Debug {
		level = logrus.DebugLevel
	}
	l.SetLevel(level)
	if cfg.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// Component returns a logger tagged with the component name.
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}
