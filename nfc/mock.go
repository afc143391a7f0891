//go:build !pi

package nfc

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// OpenReader returns a simulated reader when built without the pi tag. A card with a fixed UID is
// put on the reader for 30 seconds and taken off for 10, over and over.
func OpenReader(cfg Config) (Reader, error) {
	log.Warnf("Built without the pi tag, simulating the reader on /dev/spidev%d.%d", cfg.Bus, cfg.Device)
	return newMockReader(clockwork.NewRealClock()), nil
}

type mockReader struct {
	clock   clockwork.Clock
	started time.Time
	uid     []byte
	crypto  bool
}

func newMockReader(clock clockwork.Clock) *mockReader {
	return &mockReader{
		clock:   clock,
		started: clock.Now(),
		uid:     []byte{0x66, 0x06, 0x60, 0x06},
	}
}

func (m *mockReader) present() bool {
	return m.clock.Since(m.started)%(40*time.Second) < 30*time.Second
}

func (m *mockReader) Close() error {
	return nil
}

func (m *mockReader) Reset() error {
	m.crypto = false
	return nil
}

func (m *mockReader) FindCard() (int, error) {
	if !m.present() {
		return 0, ErrNoCard
	}
	return 0x10, nil
}

func (m *mockReader) UID() ([]byte, error) {
	if !m.present() {
		return nil, ErrNoCard
	}
	return append([]byte(nil), m.uid...), nil
}

func (m *mockReader) SelectCard(uid []byte) (int, error) {
	if !m.present() {
		return 0, ErrNoCard
	}
	return 0x08, nil
}

func (m *mockReader) Authenticate(block byte, key Key, uid []byte) error {
	if key.String() != "ffffffffffff" {
		return fmt.Errorf("authentication of block %d failed: crypto1 not active", block)
	}
	m.crypto = true
	return nil
}

func (m *mockReader) ReadBlock(block byte) ([]byte, error) {
	if !m.crypto {
		return nil, errors.New("no crypto session")
	}
	data := make([]byte, blockSize)
	data[0] = block
	return data, nil
}

func (m *mockReader) StopCrypto() error {
	m.crypto = false
	return nil
}
