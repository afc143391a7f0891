//go:build pi

package nfc

import (
	"fmt"

	"github.com/ecc1/spi"
	"github.com/jdevelop/gpio"
	rpio "github.com/jdevelop/gpio/rpi"
	log "github.com/sirupsen/logrus"
)

// OpenReader opens the MFRC522 on the given SPI device and releases it from reset.
func OpenReader(cfg Config) (Reader, error) {
	spiDev, err := spi.Open(fmt.Sprintf("/dev/spidev%d.%d", cfg.Bus, cfg.Device), cfg.MaxSpeedHz, 0)
	if err != nil {
		return nil, err
	}

	if err := spiDev.SetLSBFirst(false); err != nil {
		spiDev.Close()
		return nil, err
	}
	if err := spiDev.SetBitsPerWord(8); err != nil {
		spiDev.Close()
		return nil, err
	}

	pin, err := rpio.OpenPin(cfg.ResetPin, gpio.ModeOutput)
	if err != nil {
		spiDev.Close()
		return nil, err
	}
	pin.Set()

	r := newRFID(spiDev)
	if err := r.Reset(); err != nil {
		r.Close()
		return nil, err
	}
	log.Debugf("Opened MFRC522 on /dev/spidev%d.%d at %d Hz", cfg.Bus, cfg.Device, cfg.MaxSpeedHz)
	return r, nil
}
