package nfc

import (
	"errors"
	"testing"

	"github.com/jdevelop/golang-rpi-extras/rf522/commands"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus emulates the MFRC522 register file behind the SPI framing used by the driver.
type fakeBus struct {
	regs    map[byte]byte
	fifoIn  []byte
	fifoOut []byte
	closed  bool
	err     error
}

func newFakeBus() *fakeBus {
	return &fakeBus{regs: map[byte]byte{}}
}

func (b *fakeBus) Transfer(buf []byte) error {
	if b.err != nil {
		return b.err
	}
	addr := (buf[0] >> 1) & 0x3F
	if buf[0]&0x80 != 0 {
		switch addr {
		case byte(commands.FIFODataReg):
			if len(b.fifoOut) > 0 {
				buf[1] = b.fifoOut[0]
				b.fifoOut = b.fifoOut[1:]
			}
		case byte(commands.FIFOLevelReg):
			buf[1] = byte(len(b.fifoOut))
		default:
			buf[1] = b.regs[addr]
		}
		return nil
	}

	switch addr {
	case byte(commands.FIFODataReg):
		b.fifoIn = append(b.fifoIn, buf[1])
	case byte(commands.FIFOLevelReg):
	default:
		b.regs[addr] = buf[1]
	}
	return nil
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

func TestFindCard(t *testing.T) {
	t.Run("no card", func(t *testing.T) {
		bus := newFakeBus()
		bus.regs[byte(commands.CommIrqReg)] = 0x01

		_, err := newRFID(bus).FindCard()
		assert.ErrorIs(t, err, ErrNoCard)
	})

	t.Run("bus failure", func(t *testing.T) {
		bus := newFakeBus()
		bus.err = errors.New("input/output error")

		_, err := newRFID(bus).FindCard()
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoCard)
		assert.ErrorIs(t, err, bus.err)
	})

	t.Run("card answers", func(t *testing.T) {
		bus := newFakeBus()
		bus.regs[byte(commands.CommIrqReg)] = 0x30
		bus.fifoOut = []byte{0x04, 0x00}

		bits, err := newRFID(bus).FindCard()
		require.NoError(t, err)
		assert.Equal(t, 0x10, bits)
		assert.Equal(t, []byte{piccReqIdl}, bus.fifoIn)
	})
}

func TestUID(t *testing.T) {
	uid := []byte{0xde, 0xad, 0xbe, 0xef}

	t.Run("valid check byte", func(t *testing.T) {
		bus := newFakeBus()
		bus.regs[byte(commands.CommIrqReg)] = 0x30
		bus.fifoOut = append(append([]byte{}, uid...), bcc(uid))

		got, err := newRFID(bus).UID()
		require.NoError(t, err)
		assert.Equal(t, uid, got)
	})

	t.Run("check byte mismatch", func(t *testing.T) {
		bus := newFakeBus()
		bus.regs[byte(commands.CommIrqReg)] = 0x30
		bus.fifoOut = append(append([]byte{}, uid...), bcc(uid)^0xff)

		_, err := newRFID(bus).UID()
		assert.Error(t, err)
	})
}

func TestSelectCard(t *testing.T) {
	bus := newFakeBus()
	bus.regs[byte(commands.CommIrqReg)] = 0x30
	bus.fifoOut = []byte{0x08, 0xb6, 0xdd}

	capacity, err := newRFID(bus).SelectCard([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 8, capacity)
}

func TestAuthenticate(t *testing.T) {
	key, err := ParseKey(DefaultKey)
	require.NoError(t, err)
	uid := []byte{0xde, 0xad, 0xbe, 0xef}

	t.Run("crypto1 on", func(t *testing.T) {
		bus := newFakeBus()
		bus.regs[byte(commands.CommIrqReg)] = 0x10
		bus.regs[status2Reg] = mfCrypto1On

		require.NoError(t, newRFID(bus).Authenticate(8, key, uid))
		expected := []byte{piccAuthent1A, 8, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xde, 0xad, 0xbe, 0xef}
		assert.Equal(t, expected, bus.fifoIn)
	})

	t.Run("crypto1 off", func(t *testing.T) {
		bus := newFakeBus()
		bus.regs[byte(commands.CommIrqReg)] = 0x10

		assert.Error(t, newRFID(bus).Authenticate(8, key, uid))
	})
}

func TestReadBlock(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

	t.Run("full block", func(t *testing.T) {
		bus := newFakeBus()
		bus.regs[byte(commands.CommIrqReg)] = 0x30
		bus.fifoOut = append([]byte{}, data...)

		got, err := newRFID(bus).ReadBlock(8)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("short answer", func(t *testing.T) {
		bus := newFakeBus()
		bus.regs[byte(commands.CommIrqReg)] = 0x30
		bus.fifoOut = []byte{0x04}

		_, err := newRFID(bus).ReadBlock(8)
		assert.Error(t, err)
	})
}

func TestStopCrypto(t *testing.T) {
	bus := newFakeBus()
	bus.regs[status2Reg] = mfCrypto1On | 0x01

	require.NoError(t, newRFID(bus).StopCrypto())
	assert.Equal(t, byte(0x01), bus.regs[status2Reg])
}

func TestClose(t *testing.T) {
	bus := newFakeBus()
	require.NoError(t, newRFID(bus).Close())
	assert.True(t, bus.closed)
}
