package logging

import (
	"github.com/sirupsen/logrus"
)

// ConsoleLogger builds the process-wide logrus logger. All components derive
// their entries from this logger via WithField.
func ConsoleLogger(level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return logger
}
