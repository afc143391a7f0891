package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/musikboxeins/musikbox/bridge"
	"github.com/musikboxeins/musikbox/nfc"
	"github.com/musikboxeins/musikbox/server"
	"github.com/musikboxeins/musikbox/storage"
	"github.com/musikboxeins/musikbox/ui"
	log "github.com/sirupsen/logrus"
)

// startPlayer runs the box until the context is cancelled or the HTTP server fails.
func startPlayer(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	db := openDB()
	defer db.Close()

	creds, client := newSpotify(db)
	if !creds.LoggedIn() {
		log.Warnln("Not logged in to Spotify yet, visit /login to log in")
	}
	go creds.Run(ctx)

	socket := bridge.New(client, bridge.Config{
		Target:      *target,
		CheckOrigin: bridge.OriginChecker(*allowedOrigins),
	}, log.StandardLogger())
	defer socket.Wait()
	defer socket.Close()
	log.Infof("Socket events play %v", socket.Target())

	reader := openReader()
	defer reader.Close()
	poller := nfc.NewPoller(reader, pollerConfig(), nil, log.StandardLogger())

	buzzer, err := ui.InitBuzzer(*buzzerPin, log.StandardLogger())
	if err != nil {
		log.Warnf("Running without buzzer: %v", err)
		buzzer = nil
	} else {
		defer buzzer.Close()
	}

	loop := &cardLoop{
		links:      db,
		player:     socket,
		buzzer:     buzzer,
		playLinked: *playLinked,
		log:        log.StandardLogger(),
	}
	srv := server.New(socket, creds, server.Config{
		PublicDir:      *publicDir,
		AllowedOrigins: *allowedOrigins,
	}, log.StandardLogger())

	err = serve(ctx, fmt.Sprintf(":%d", *port), srv.Handler(), poller, loop)
	log.Infoln("Shutting down")
	return err
}

// serve runs the poller, the card loop and the HTTP server together. When the server stops, for
// a failed listen as well as for a cancelled context, the poller is stopped and the card loop
// drained before returning.
func serve(ctx context.Context, addr string, handler http.Handler, poller *nfc.Poller, loop *cardLoop) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go poller.Run(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.run(poller.Events())
	}()

	err := server.Start(ctx, addr, handler, loop.log)
	cancel()
	<-loopDone
	if err != nil {
		return fmt.Errorf("server on %v stopped: %w", addr, err)
	}
	return nil
}

type linkReader interface {
	ReadLink(cardID string) (storage.Link, error)
}

type player interface {
	Play(trigger, contextURI string)
}

// cardLoop reacts to debounced card events. Playback is only started for linked cards and only
// when enabled.
type cardLoop struct {
	links      linkReader
	player     player
	buzzer     ui.Buzzer
	playLinked bool
	log        log.FieldLogger
}

func (l *cardLoop) run(events <-chan nfc.CardEvent) {
	for e := range events {
		l.handle(e)
	}
	l.log.Debugln("Card event channel closed")
}

func (l *cardLoop) handle(e nfc.CardEvent) {
	if e.State == nfc.Deactivated {
		l.log.Infoln("Card removed...")
		return
	}

	l.log.Infof("Card %v activated", e.CardID)
	if l.buzzer != nil {
		l.buzzer.Beep(ui.DefaultBeep)
	}
	if !l.playLinked {
		return
	}

	link, err := l.links.ReadLink(e.CardID)
	if errors.Is(err, storage.ErrNotFound) {
		l.log.Infof("Card %v is not linked to anything", e.CardID)
		return
	}
	if err != nil {
		l.log.Errorf("Could not read the link of card %v: %v", e.CardID, err)
		return
	}
	l.player.Play("card", link.ContextURI)
}
