package logging

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// Get returns the process-wide structured logger. Output is JSON so log
// aggregation can index fields without parsing message strings.
func Get() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetLevel(logrus.InfoLevel)
	})
	return logger
}

// SetLevel adjusts verbosity from configuration ("debug", "info", "warn",
// "error"). Unknown values keep the current level.
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	Get().SetLevel(parsed)
}

// WithComponent returns an entry tagged with the emitting component, the
// convention used across the services.
func WithComponent(name string) *logrus.Entry {
	return Get().WithField("component", name)
}
