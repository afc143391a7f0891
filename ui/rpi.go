//go:build pi

package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

type buzzer struct {
	mu  sync.Mutex
	pin gpio.PinIO
}

// InitBuzzer fetches and silences the buzzer pin.
func InitBuzzer(pin string, logger logrus.FieldLogger) (Buzzer, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("unable to initialize periph: %w", err)
	}
	p := gpioreg.ByName(pin)
	if p == nil {
		return nil, fmt.Errorf("no GPIO pin named %v", pin)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("could not silence the buzzer on %v: %w", pin, err)
	}
	logger.Infof("Buzzer on %v", p.Name())
	return &buzzer{pin: p}, nil
}

func (b *buzzer) Beep(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.pin.Out(gpio.High); err != nil {
		logrus.Warnf("Buzzer failed: %v", err)
		return
	}
	time.Sleep(d)
	b.pin.Out(gpio.Low)
}

func (b *buzzer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pin.Out(gpio.Low)
}
