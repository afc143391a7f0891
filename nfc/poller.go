package nfc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/musikboxeins/musikbox/metrics"
	"github.com/sirupsen/logrus"
)

// DefaultBlock is the data block dumped on every read, the first block of sector 2.
const DefaultBlock = 8

type PollerConfig struct {
	Key      Key
	Block    byte
	Interval time.Duration
	// DebounceTicks is how many extra ticks a card ID has to stay the same before an event is sent.
	DebounceTicks int
}

func DefaultPollerConfig() PollerConfig {
	key, _ := ParseKey(DefaultKey)
	return PollerConfig{
		Key:           key,
		Block:         DefaultBlock,
		Interval:      500 * time.Millisecond,
		DebounceTicks: 2,
	}
}

// Poller checks the reader for a card on a fixed interval. Every tick starts from a reset reader and
// ends without an open crypto session, so nothing is held on the bus between ticks.
type Poller struct {
	reader Reader
	cfg    PollerConfig
	clock  clockwork.Clock
	log    logrus.FieldLogger
	events chan CardEvent

	lastSeenID      string
	lastConfirmedID string
	debounceIndex   int
}

func NewPoller(reader Reader, cfg PollerConfig, clock clockwork.Clock, logger logrus.FieldLogger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollerConfig().Interval
	}
	if cfg.DebounceTicks <= 0 {
		cfg.DebounceTicks = DefaultPollerConfig().DebounceTicks
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Poller{
		reader: reader,
		cfg:    cfg,
		clock:  clock,
		log:    logger,
		events: make(chan CardEvent, 10),
	}
}

// Events delivers debounced card activations and deactivations. It is closed when Run returns.
func (p *Poller) Events() <-chan CardEvent {
	return p.events
}

// Run polls until the context is cancelled. Failed ticks are logged and the next tick comes on the
// regular interval.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.events)

	ticker := p.clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.log.Infof("Polling for cards every %v", p.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			p.log.Debugln("Card poller stopped. Returning.")
			return
		case <-ticker.Chan():
		}

		read := p.PollOnce()
		p.observe(read.ID())
	}
}

// PollOnce runs a single tick against the reader.
func (p *Poller) PollOnce() (read CardRead) {
	if err := p.reader.Reset(); err != nil {
		p.log.Errorf("Reset error: %v", err)
		p.count("reset_error")
		return
	}

	bitSize, err := p.reader.FindCard()
	if errors.Is(err, ErrNoCard) {
		p.log.Debug("No card")
		p.count("no_card")
		return
	}
	if err != nil {
		p.log.Errorf("Card scan error: %v", err)
		p.count("scan_error")
		return
	}
	read.Present = true
	p.log.Infof("Card detected, CardType: %v", bitSize)

	uid, err := p.reader.UID()
	if err != nil {
		p.log.Errorf("UID scan error: %v", err)
		p.count("uid_error")
		return
	}
	read.UID = uid
	p.log.Infof("Card read UID: %v", formatBytes(uid))

	capacity, err := p.reader.SelectCard(uid)
	if err != nil {
		p.log.Errorf("Select error: %v", err)
		p.count("select_error")
		return
	}
	read.Capacity = capacity
	p.log.Infof("Card memory capacity: %v", capacity)

	if err := p.reader.Authenticate(p.cfg.Block, p.cfg.Key, uid); err != nil {
		p.log.Errorf("Authentication error: %v", err)
		p.count("auth_error")
		return
	}
	defer p.stopCrypto()

	data, err := p.readBlock()
	if err != nil {
		p.log.Errorf("Block %d read error: %v", p.cfg.Block, err)
		p.count("read_error")
		return
	}
	read.Block = data
	p.log.Infof("Block: %d Data: %v", p.cfg.Block, formatBytes(data))
	p.count("read")
	return
}

// readBlock turns a panicking driver into an error so the deferred StopCrypto still closes the
// session and the poll loop keeps going.
func (p *Poller) readBlock() (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reader panicked: %v", r)
		}
	}()
	return p.reader.ReadBlock(p.cfg.Block)
}

func (p *Poller) stopCrypto() {
	if err := p.reader.StopCrypto(); err != nil {
		p.log.Warnf("Could not stop the crypto session: %v", err)
	}
}

func (p *Poller) observe(id string) {
	if p.lastSeenID != id {
		p.lastSeenID = id
		p.debounceIndex = 0
		return
	}

	if p.lastConfirmedID == id {
		return
	}

	// debounce the card, in case we have half reads, or multiple cards
	p.debounceIndex++
	if p.debounceIndex >= p.cfg.DebounceTicks {
		if id == "" {
			p.log.Debugln("Sending deactivation event")
			p.emit(CardEvent{State: Deactivated, CardID: ""})
		} else {
			p.log.Debugf("Sending activation event for card %v", id)
			p.emit(CardEvent{State: Activated, CardID: id})
		}
		p.lastConfirmedID = id
		p.debounceIndex = 0
	}
}

func (p *Poller) emit(e CardEvent) {
	select {
	case p.events <- e:
	default:
		p.log.Warnf("Card event channel full, dropping %v event for %q", e.State, e.CardID)
	}
}

func (p *Poller) count(outcome string) {
	metrics.PollTicks.WithLabelValues(outcome).Inc()
}
