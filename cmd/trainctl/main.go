// Command trainctl launches, watches and stops training sessions against a
// training backend.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/trainwatch/pkg/common/logger"
)

func main() {
	logger.Init()
	logger.Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stderr)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
