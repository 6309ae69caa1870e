package razdebug

import (
	"github.com/sirupsen/logrus"
)

var log logrus.FieldLogger = logrus.StandardLogger()

// SetLogger replaces the package level logger
func SetLogger(logger logrus.FieldLogger) {
	log = logger
}
