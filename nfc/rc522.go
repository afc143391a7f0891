package nfc

// MFRC522 spec can be found here: https://www.nxp.com/docs/en/data-sheet/MFRC522.pdf
// MIFARE Classic 1K spec: https://www.nxp.com/docs/en/data-sheet/MF1S50YYX_V1.pdf

import (
	"errors"
	"fmt"

	"github.com/jdevelop/golang-rpi-extras/rf522/commands"
	log "github.com/sirupsen/logrus"
)

const (
	status2Reg  = 0x08
	mfCrypto1On = 0x08

	piccReqIdl    = 0x26
	piccAnticoll  = 0x93
	piccSelectTag = 0x93
	piccAuthent1A = 0x60
	piccRead      = 0x30
	cascadeTag    = 0x88

	blockSize = 16
)

// spiBus is the part of an SPI device the driver needs. *spi.Device satisfies it.
type spiBus interface {
	Transfer(buf []byte) error
	Close() error
}

type rfid struct {
	bus         spiBus
	antennaGain int
}

func newRFID(bus spiBus) *rfid {
	return &rfid{
		bus:         bus,
		antennaGain: 7,
	}
}

func (r *rfid) Close() error {
	return r.bus.Close()
}

// Reset soft resets the chip, which also drops any crypto session, and configures the timer and
// antenna again.
func (r *rfid) Reset() (err error) {
	err = r.devWrite(commands.CommandReg, commands.PCD_RESETPHASE)
	if err != nil {
		return
	}
	err = r.devWrite(0x2A, 0x8D)
	if err != nil {
		return
	}
	err = r.devWrite(0x2B, 0x3E)
	if err != nil {
		return
	}
	err = r.devWrite(0x2D, 30)
	if err != nil {
		return
	}
	err = r.devWrite(0x2C, 0)
	if err != nil {
		return
	}
	err = r.devWrite(0x15, 0x40)
	if err != nil {
		return
	}
	err = r.devWrite(0x11, 0x3D)
	if err != nil {
		return
	}
	err = r.devWrite(0x26, byte(r.antennaGain)<<4)
	if err != nil {
		return
	}
	return r.setAntenna(true)
}

func (r *rfid) FindCard() (int, error) {
	if err := r.devWrite(commands.BitFramingReg, 0x07); err != nil {
		return 0, err
	}

	_, backBits, err := r.cardWrite(commands.PCD_TRANSCEIVE, []byte{piccReqIdl})
	if errors.Is(err, ErrNoCard) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("card request failed: %w", err)
	}
	if backBits != 0x10 {
		return backBits, fmt.Errorf("wrong number of bits %d: %w", backBits, ErrNoCard)
	}
	return backBits, nil
}

func (r *rfid) UID() ([]byte, error) {
	if err := r.devWrite(commands.BitFramingReg, 0x00); err != nil {
		return nil, err
	}

	backData, _, err := r.cardWrite(commands.PCD_TRANSCEIVE, []byte{piccAnticoll, 0x20})
	if err != nil {
		return nil, fmt.Errorf("anticollision failed: %w", err)
	}
	if len(backData) != 5 {
		return nil, fmt.Errorf("back data expected 5, actual %d", len(backData))
	}
	if crc := bcc(backData[:4]); crc != backData[4] {
		return nil, fmt.Errorf("CRC mismatch, expected %02x actual %02x", crc, backData[4])
	}
	// only single size UIDs carry the MIFARE Classic sectors we read
	if backData[0] == cascadeTag {
		return nil, errors.New("double size UIDs are not supported")
	}
	return backData[:4], nil
}

func (r *rfid) SelectCard(uid []byte) (int, error) {
	if len(uid) != 4 {
		return 0, fmt.Errorf("expected a 4 byte UID, got %d bytes", len(uid))
	}
	buf := []byte{piccSelectTag, 0x70, uid[0], uid[1], uid[2], uid[3], bcc(uid)}
	crc, err := r.crc(buf)
	if err != nil {
		return 0, err
	}
	buf = append(buf, crc...)

	backData, backBits, err := r.cardWrite(commands.PCD_TRANSCEIVE, buf)
	if err != nil {
		return 0, fmt.Errorf("select failed: %w", err)
	}
	if backBits != 0x18 || len(backData) == 0 {
		return 0, fmt.Errorf("select failed: unexpected answer of %d bits", backBits)
	}
	return int(backData[0]), nil
}

func (r *rfid) Authenticate(block byte, key Key, uid []byte) error {
	if len(uid) < 4 {
		return fmt.Errorf("expected a 4 byte UID, got %d bytes", len(uid))
	}
	buf := make([]byte, 0, 12)
	buf = append(buf, piccAuthent1A, block)
	buf = append(buf, key[:]...)
	buf = append(buf, uid[:4]...)

	if _, _, err := r.cardWrite(commands.PCD_AUTHENT, buf); err != nil {
		return fmt.Errorf("authentication of block %d failed: %w", block, err)
	}

	status, err := r.devRead(status2Reg)
	if err != nil {
		return err
	}
	if status&mfCrypto1On == 0 {
		return fmt.Errorf("authentication of block %d failed: crypto1 not active", block)
	}
	return nil
}

func (r *rfid) ReadBlock(block byte) ([]byte, error) {
	buf := []byte{piccRead, block}
	crc, err := r.crc(buf)
	if err != nil {
		return nil, err
	}
	buf = append(buf, crc...)

	backData, _, err := r.cardWrite(commands.PCD_TRANSCEIVE, buf)
	if err != nil {
		return nil, fmt.Errorf("reading block %d failed: %w", block, err)
	}
	if len(backData) != blockSize {
		return nil, fmt.Errorf("reading block %d failed: expected %d bytes, got %d", block, blockSize, len(backData))
	}
	return backData, nil
}

func (r *rfid) StopCrypto() error {
	return r.clearBitmask(status2Reg, mfCrypto1On)
}

func (r *rfid) writeSpiData(dataIn []byte) (out []byte, err error) {
	out = make([]byte, len(dataIn))
	copy(out, dataIn)
	err = r.bus.Transfer(out)
	return
}

func (r *rfid) devWrite(address int, data byte) (err error) {
	newData := [2]byte{(byte(address) << 1) & 0x7E, data}
	_, err = r.writeSpiData(newData[:])
	return
}

func (r *rfid) devRead(address int) (result byte, err error) {
	data := [2]byte{((byte(address) << 1) & 0x7E) | 0x80, 0}
	rb, err := r.writeSpiData(data[:])
	if err != nil {
		return
	}
	result = rb[1]
	return
}

func (r *rfid) setBitmask(address, mask int) (err error) {
	current, err := r.devRead(address)
	if err != nil {
		return
	}
	err = r.devWrite(address, current|byte(mask))
	return
}

func (r *rfid) clearBitmask(address, mask int) (err error) {
	current, err := r.devRead(address)
	if err != nil {
		return
	}
	err = r.devWrite(address, current&^byte(mask))
	return
}

func (r *rfid) setAntenna(state bool) (err error) {
	if state {
		current, err := r.devRead(commands.TxControlReg)
		if err != nil {
			return err
		}
		if current&0x03 == 0 {
			err = r.setBitmask(commands.TxControlReg, 0x03)
		}
		return err
	}
	return r.clearBitmask(commands.TxControlReg, 0x03)
}

func (r *rfid) cardWrite(command byte, data []byte) (backData []byte, backLength int, err error) {
	backData = make([]byte, 0)
	backLength = -1
	irqEn := byte(0x00)
	irqWait := byte(0x00)

	switch command {
	case commands.PCD_AUTHENT:
		irqEn = 0x12
		irqWait = 0x10
	case commands.PCD_TRANSCEIVE:
		irqEn = 0x77
		irqWait = 0x30
	}

	if err = r.devWrite(commands.CommIEnReg, irqEn|0x80); err != nil {
		return
	}
	if err = r.clearBitmask(commands.CommIrqReg, 0x80); err != nil {
		return
	}
	if err = r.setBitmask(commands.FIFOLevelReg, 0x80); err != nil {
		return
	}
	if err = r.devWrite(commands.CommandReg, commands.PCD_IDLE); err != nil {
		return
	}

	for _, v := range data {
		if err = r.devWrite(commands.FIFODataReg, v); err != nil {
			return
		}
	}

	if err = r.devWrite(commands.CommandReg, command); err != nil {
		return
	}

	if command == commands.PCD_TRANSCEIVE {
		if err = r.setBitmask(commands.BitFramingReg, 0x80); err != nil {
			return
		}
	}

	i := 2000
	n := byte(0)

	for ; i > 0; i-- {
		n, err = r.devRead(commands.CommIrqReg)
		if err != nil {
			return
		}
		if n&(irqWait|1) != 0 {
			break
		}
	}

	if err = r.clearBitmask(commands.BitFramingReg, 0x80); err != nil {
		return
	}

	if i == 0 {
		err = errors.New("can't read data after 2000 loops")
		return
	}

	d, err := r.devRead(commands.ErrorReg)
	if err != nil {
		return
	}
	if d&0x1B != 0 {
		err = fmt.Errorf("error register set: %02x", d)
		return
	}

	if n&irqEn&0x01 != 0 {
		// the timer ran out, nothing answered
		err = ErrNoCard
		return
	}

	if command == commands.PCD_TRANSCEIVE {
		n, err = r.devRead(commands.FIFOLevelReg)
		if err != nil {
			return
		}
		lastBits, err1 := r.devRead(commands.ControlReg)
		if err1 != nil {
			err = err1
			return
		}
		lastBits = lastBits & 0x07
		if lastBits != 0 {
			backLength = (int(n)-1)*8 + int(lastBits)
		} else {
			backLength = int(n) * 8
		}

		if n == 0 {
			n = 1
		}

		if n > blockSize {
			n = blockSize
		}

		for i := byte(0); i < n; i++ {
			byteVal, err1 := r.devRead(commands.FIFODataReg)
			if err1 != nil {
				err = err1
				return
			}
			backData = append(backData, byteVal)
		}
		log.Debugf("Transceive answered with %d bits: %v", backLength, formatBytes(backData))
	}

	return
}

func (r *rfid) crc(inData []byte) (res []byte, err error) {
	res = []byte{0, 0}
	err = r.clearBitmask(commands.DivIrqReg, 0x04)
	if err != nil {
		return
	}
	err = r.setBitmask(commands.FIFOLevelReg, 0x80)
	if err != nil {
		return
	}
	for _, v := range inData {
		if err = r.devWrite(commands.FIFODataReg, v); err != nil {
			return
		}
	}
	err = r.devWrite(commands.CommandReg, commands.PCD_CALCCRC)
	if err != nil {
		return
	}
	for i := byte(0xFF); i > 0; i-- {
		n, err1 := r.devRead(commands.DivIrqReg)
		if err1 != nil {
			err = err1
			return
		}
		if n&0x04 > 0 {
			break
		}
	}
	lsb, err := r.devRead(commands.CRCResultRegL)
	if err != nil {
		return
	}
	res[0] = lsb

	msb, err := r.devRead(commands.CRCResultRegM)
	if err != nil {
		return
	}
	res[1] = msb
	return
}

// bcc is the block check character of a UID: all bytes XORed.
func bcc(data []byte) byte {
	crc := byte(0)
	for _, v := range data {
		crc = crc ^ v
	}
	return crc
}
