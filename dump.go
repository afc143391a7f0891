package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/musikboxeins/musikbox/nfc"
	"github.com/musikboxeins/musikbox/storage"
	log "github.com/sirupsen/logrus"
)

const cardWait = 30 * time.Second

func dumpAll() {
	db := openDB()
	defer db.Close()

	links, err := db.ReadAll()
	if err != nil {
		log.Fatal(err)
	}
	printLinks(links)
}

func printLinks(links []storage.Link) {
	if len(links) == 0 {
		fmt.Println("No cards found in the database...")
		return
	}
	fmt.Println("      ID │ Context                              │ Title")
	fmt.Println("─────────┼──────────────────────────────────────┼─────────────────────────────────────────")
	for _, l := range links {
		fmt.Printf("%8v │ %-36v │ %v\n", l.CardID, l.ContextURI, checkLength(l.Title, 40))
	}
}

func dumpCard(ctx context.Context) {
	reader := openReader()
	defer reader.Close()

	poller := nfc.NewPoller(reader, pollerConfig(), nil, log.StandardLogger())
	read := poller.PollOnce()
	fmt.Println(read)
	if read.ID() == "" {
		return
	}

	db := openDB()
	defer db.Close()
	l, err := db.ReadLink(read.ID())
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Println("Not linked")
		return
	}
	if err != nil {
		log.Error(err)
		return
	}
	fmt.Printf("Linked to %v (%v)\n", l.ContextURI, l.Title)
}

// readSingleCard polls until a card is on the reader and returns its id.
func readSingleCard(ctx context.Context) (string, error) {
	reader := openReader()
	defer reader.Close()

	cfg := pollerConfig()
	poller := nfc.NewPoller(reader, cfg, nil, log.StandardLogger())

	ctx, cancel := context.WithTimeout(ctx, cardWait)
	defer cancel()

	fmt.Println("Put a card on the reader...")
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	for {
		if id := poller.PollOnce().ID(); id != "" {
			return id, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("no card read: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// checkLength cuts s to l runes.
func checkLength(s string, l int) string {
	runes := []rune(s)
	if len(runes) > l {
		return string(runes[:l]) + "…"
	}
	return s
}
