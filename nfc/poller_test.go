package nfc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	calls     []string
	absent    bool
	findErr   error
	uidErr    error
	selectErr error
	authErr   error
	readErr   error
	readPanic bool
	ticks     chan struct{}
}

func (f *fakeReader) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeReader) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeReader) SetAbsent(absent bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.absent = absent
}

func (f *fakeReader) Close() error {
	return nil
}

func (f *fakeReader) Reset() error {
	f.record("Reset")
	if f.ticks != nil {
		f.ticks <- struct{}{}
	}
	return nil
}

func (f *fakeReader) FindCard() (int, error) {
	f.record("FindCard")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.absent {
		return 0, ErrNoCard
	}
	if f.findErr != nil {
		return 0, f.findErr
	}
	return 0x10, nil
}

func (f *fakeReader) UID() ([]byte, error) {
	f.record("UID")
	if f.uidErr != nil {
		return nil, f.uidErr
	}
	return []byte{0xde, 0xad, 0xbe, 0xef}, nil
}

func (f *fakeReader) SelectCard(uid []byte) (int, error) {
	f.record("SelectCard")
	return 8, f.selectErr
}

func (f *fakeReader) Authenticate(block byte, key Key, uid []byte) error {
	f.record("Authenticate")
	return f.authErr
}

func (f *fakeReader) ReadBlock(block byte) ([]byte, error) {
	f.record("ReadBlock")
	if f.readPanic {
		panic("bus went away")
	}
	if f.readErr != nil {
		return nil, f.readErr
	}
	return make([]byte, blockSize), nil
}

func (f *fakeReader) StopCrypto() error {
	f.record("StopCrypto")
	return nil
}

func newTestPoller(r Reader) (*Poller, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return NewPoller(r, DefaultPollerConfig(), clockwork.NewFakeClock(), logger), hook
}

func countLevel(hook *test.Hook, level logrus.Level) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

func TestPollOnce(t *testing.T) {
	tests := []struct {
		name      string
		reader    *fakeReader
		calls     []string
		errorLogs int
		present   bool
		block     bool
	}{
		{
			"no card",
			&fakeReader{absent: true},
			[]string{"Reset", "FindCard"},
			0, false, false,
		},
		{
			"reader failure",
			&fakeReader{findErr: errors.New("card request failed: spi transfer: input/output error")},
			[]string{"Reset", "FindCard"},
			1, false, false,
		},
		{
			"uid scan error",
			&fakeReader{uidErr: errors.New("CRC mismatch")},
			[]string{"Reset", "FindCard", "UID"},
			1, true, false,
		},
		{
			"select error",
			&fakeReader{selectErr: errors.New("select failed")},
			[]string{"Reset", "FindCard", "UID", "SelectCard"},
			1, true, false,
		},
		{
			"authentication error",
			&fakeReader{authErr: errors.New("crypto1 not active")},
			[]string{"Reset", "FindCard", "UID", "SelectCard", "Authenticate"},
			1, true, false,
		},
		{
			"block read",
			&fakeReader{},
			[]string{"Reset", "FindCard", "UID", "SelectCard", "Authenticate", "ReadBlock", "StopCrypto"},
			0, true, true,
		},
		{
			"block read error",
			&fakeReader{readErr: errors.New("short answer")},
			[]string{"Reset", "FindCard", "UID", "SelectCard", "Authenticate", "ReadBlock", "StopCrypto"},
			1, true, false,
		},
		{
			"block read panic",
			&fakeReader{readPanic: true},
			[]string{"Reset", "FindCard", "UID", "SelectCard", "Authenticate", "ReadBlock", "StopCrypto"},
			1, true, false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, hook := newTestPoller(tc.reader)

			read := p.PollOnce()

			assert.Equal(t, tc.calls, tc.reader.Calls())
			assert.Equal(t, tc.errorLogs, countLevel(hook, logrus.ErrorLevel))
			assert.Equal(t, tc.present, read.Present)
			assert.Equal(t, tc.block, read.Block != nil)
		})
	}
}

func TestPollOnceNoCardLogsOnce(t *testing.T) {
	p, hook := newTestPoller(&fakeReader{absent: true})

	p.PollOnce()

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, "No card", hook.LastEntry().Message)
}

func TestPollOnceWithoutCardIsIdempotent(t *testing.T) {
	r := &fakeReader{absent: true}
	p, hook := newTestPoller(r)

	for i := 0; i < 20; i++ {
		p.PollOnce()
		p.observe("")
	}

	assert.Len(t, r.Calls(), 40)
	assert.Len(t, hook.AllEntries(), 20)
	assert.Empty(t, p.Events())
	assert.Equal(t, 0, p.debounceIndex)
}

func TestRunDebouncesCardEvents(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := &fakeReader{ticks: make(chan struct{}, 16)}
	logger, _ := test.NewNullLogger()
	cfg := DefaultPollerConfig()
	p := NewPoller(r, cfg, clock, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go p.Run(ctx)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	tick := func() {
		clock.Advance(cfg.Interval)
		select {
		case <-r.ticks:
		case <-ctx.Done():
			t.Fatal("tick did not happen")
		}
	}
	next := func() CardEvent {
		select {
		case e := <-p.Events():
			return e
		case <-ctx.Done():
			t.Fatal("no card event")
		}
		return CardEvent{}
	}

	for i := 0; i <= cfg.DebounceTicks; i++ {
		tick()
	}
	assert.Equal(t, CardEvent{CardID: "deadbeef", State: Activated}, next())

	r.SetAbsent(true)
	for i := 0; i <= cfg.DebounceTicks; i++ {
		tick()
	}
	assert.Equal(t, CardEvent{CardID: "", State: Deactivated}, next())

	cancel()
	for range p.Events() {
	}
}
