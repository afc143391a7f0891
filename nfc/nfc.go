package nfc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	Activated   CardState = 0
	Deactivated CardState = 1
)

// DefaultKey is the factory key A of MIFARE Classic sectors.
const DefaultKey = "FFFFFFFFFFFF"

var ErrNoCard = errors.New("no card detected")

// Reader is a synchronous MFRC522-style card reader. Calls are not safe for concurrent use, the
// poller is the only caller.
type Reader interface {
	io.Closer
	// Reset clears any in-progress card session and reinitializes the reader.
	Reset() error
	// FindCard returns the bit size of the card answer, or ErrNoCard.
	FindCard() (int, error)
	// UID returns the 4 byte serial of the card in the field.
	UID() ([]byte, error)
	// SelectCard selects the card and returns its reported memory capacity.
	SelectCard(uid []byte) (int, error)
	// Authenticate opens a crypto session for the block.
	Authenticate(block byte, key Key, uid []byte) error
	ReadBlock(block byte) ([]byte, error)
	StopCrypto() error
}

// Config locates the reader: /dev/spidev<Bus>.<Device> and the BCM number of its reset pin.
type Config struct {
	Bus        int
	Device     int
	MaxSpeedHz int
	ResetPin   int
}

type CardState int

type CardEvent struct {
	CardID string
	State  CardState
}

func (s CardState) String() string {
	if s == Activated {
		return "activated"
	}
	return "deactivated"
}

type Key [6]byte

func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("invalid key %q: %w", s, err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("invalid key %q: expected %d bytes, got %d", s, len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// CardRead is the outcome of a single poll tick.
type CardRead struct {
	Present  bool
	UID      []byte
	Capacity int
	Block    []byte
}

// ID is the hex encoded UID, or an empty string when no UID was read.
func (c CardRead) ID() string {
	return hex.EncodeToString(c.UID)
}

func (c CardRead) String() string {
	if !c.Present {
		return "no card"
	}
	return fmt.Sprintf("UID: %v, capacity: %v, block: %v", formatBytes(c.UID), c.Capacity, formatBytes(c.Block))
}

func formatBytes(data []byte) (res string) {
	if len(data) == 0 {
		return "[]"
	}
	res = "["
	for _, v := range data[:len(data)-1] {
		res = res + fmt.Sprintf("%02x ", v)
	}
	res = res + fmt.Sprintf("%02x]", data[len(data)-1])
	return
}
