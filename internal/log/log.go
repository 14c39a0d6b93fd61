// Package log configures the gateway's structured logger.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

// InitLogs builds the process-wide logrus logger used by every
// component, honoring SWEETMCP_LOG_LEVEL.
func InitLogs() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(os.Getenv("SWEETMCP_LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
