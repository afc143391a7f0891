//go:build !pi

package ui

import (
	"time"

	"github.com/sirupsen/logrus"
)

type cliBuzzer struct {
	log logrus.FieldLogger
}

func InitBuzzer(pin string, logger logrus.FieldLogger) (Buzzer, error) {
	return cliBuzzer{log: logger}, nil
}

func (b cliBuzzer) Beep(d time.Duration) {
	b.log.Infof("Buzzer: beep (%v)", d)
}

func (cliBuzzer) Close() error {
	return nil
}
