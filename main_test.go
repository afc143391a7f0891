package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/musikboxeins/musikbox/nfc"
	"github.com/musikboxeins/musikbox/storage"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLinks map[string]storage.Link

func (f fakeLinks) ReadLink(cardID string) (storage.Link, error) {
	if cardID == "broken" {
		return storage.Link{}, errors.New("corrupt entry")
	}
	l, ok := f[cardID]
	if !ok {
		return l, fmt.Errorf("card %v: %w", cardID, storage.ErrNotFound)
	}
	return l, nil
}

type fakePlayer struct {
	mu    sync.Mutex
	plays []string
}

func (p *fakePlayer) Play(trigger, contextURI string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays = append(p.plays, trigger+" "+contextURI)
}

type fakeBuzzer struct {
	beeps int
}

func (b *fakeBuzzer) Beep(d time.Duration) {
	b.beeps++
}

func (b *fakeBuzzer) Close() error {
	return nil
}

func TestCardLoop(t *testing.T) {
	links := fakeLinks{"deadbeef": {CardID: "deadbeef", ContextURI: "spotify:album:1UbnWM4Qnw1uKaBuXMUAV0"}}

	tests := []struct {
		name       string
		event      nfc.CardEvent
		playLinked bool
		plays      []string
		beeps      int
		errors     int
	}{
		{
			name:       "linked card",
			event:      nfc.CardEvent{CardID: "deadbeef", State: nfc.Activated},
			playLinked: true,
			plays:      []string{"card spotify:album:1UbnWM4Qnw1uKaBuXMUAV0"},
			beeps:      1,
		},
		{
			name:  "linked card without playback",
			event: nfc.CardEvent{CardID: "deadbeef", State: nfc.Activated},
			beeps: 1,
		},
		{
			name:       "unknown card",
			event:      nfc.CardEvent{CardID: "cafebabe", State: nfc.Activated},
			playLinked: true,
			beeps:      1,
		},
		{
			name:       "broken link",
			event:      nfc.CardEvent{CardID: "broken", State: nfc.Activated},
			playLinked: true,
			beeps:      1,
			errors:     1,
		},
		{
			name:       "removed card",
			event:      nfc.CardEvent{State: nfc.Deactivated},
			playLinked: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			player := &fakePlayer{}
			buzzer := &fakeBuzzer{}
			loop := &cardLoop{links: links, player: player, buzzer: buzzer, playLinked: tt.playLinked, log: logger}

			events := make(chan nfc.CardEvent, 1)
			events <- tt.event
			close(events)
			loop.run(events)

			assert.Equal(t, tt.plays, player.plays)
			assert.Equal(t, tt.beeps, buzzer.beeps)

			errs := 0
			for _, e := range hook.AllEntries() {
				if e.Level == logrus.ErrorLevel {
					errs++
				}
			}
			assert.Equal(t, tt.errors, errs)
		})
	}
}

func TestCardLoopWithoutBuzzer(t *testing.T) {
	logger, _ := test.NewNullLogger()
	loop := &cardLoop{links: fakeLinks{}, player: &fakePlayer{}, log: logger}
	require.NotPanics(t, func() {
		loop.handle(nfc.CardEvent{CardID: "deadbeef", State: nfc.Activated})
	})
}

func TestCheckLength(t *testing.T) {
	tests := []struct {
		in   string
		l    int
		want string
	}{
		{in: "short", l: 10, want: "short"},
		{in: "abcdef", l: 3, want: "abc…"},
		{in: "Björk", l: 5, want: "Björk"},
		{in: "Motörhead", l: 3, want: "Mot…"},
		{in: "Motörhead", l: 4, want: "Motö…"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := checkLength(tt.in, tt.l)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

// emptyReader never sees a card.
type emptyReader struct{}

func (emptyReader) Close() error { return nil }
func (emptyReader) Reset() error { return nil }
func (emptyReader) FindCard() (int, error) { return 0, nfc.ErrNoCard }
func (emptyReader) UID() ([]byte, error) { return nil, nfc.ErrNoCard }
func (emptyReader) SelectCard(uid []byte) (int, error) { return 0, nfc.ErrNoCard }
func (emptyReader) Authenticate(byte, nfc.Key, []byte) error { return nfc.ErrNoCard }
func (emptyReader) ReadBlock(block byte) ([]byte, error) { return nil, nfc.ErrNoCard }
func (emptyReader) StopCrypto() error { return nil }

func newServeFixture() (*nfc.Poller, *cardLoop) {
	logger, _ := test.NewNullLogger()
	poller := nfc.NewPoller(emptyReader{}, nfc.DefaultPollerConfig(), clockwork.NewFakeClock(), logger)
	loop := &cardLoop{links: fakeLinks{}, player: &fakePlayer{}, log: logger}
	return poller, loop
}

func TestServeStopsWhenListenFails(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	poller, loop := newServeFixture()
	done := make(chan error, 1)
	go func() {
		done <- serve(context.Background(), busy.Addr().String(), http.NotFoundHandler(), poller, loop)
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve kept running without a server")
	}

	_, open := <-poller.Events()
	assert.False(t, open, "poller stopped")
}

func TestServeStopsOnCancel(t *testing.T) {
	poller, loop := newServeFixture()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), poller, loop)
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestDebugFlagMentionsPollTicks(t *testing.T) {
	assert.Contains(t, app.GetFlag("debug").Model().Help, "card poll tick")
}
