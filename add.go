package main

import (
	"context"
	"fmt"
	"time"

	"github.com/musikboxeins/musikbox/spotify"
	"github.com/musikboxeins/musikbox/storage"
	log "github.com/sirupsen/logrus"
)

func linkCard(ctx context.Context) {
	kind, id, err := spotify.ParseURI(*linkURI)
	if err != nil {
		log.Fatal(err)
	}

	cardID := getCardID(ctx, *linkCardID)

	db := openDB()
	defer db.Close()

	title := *linkTitle
	if title == "" && kind == "album" {
		album, err := loggedInClient(db).Album(ctx, id)
		if err != nil {
			log.Warnf("Could not look up album %v: %v", id, err)
		} else {
			title = fmt.Sprintf("%v - %v", album.Artist(), album.Name)
		}
	}

	l := storage.Link{
		CardID:     cardID,
		ContextURI: *linkURI,
		Title:      title,
		AddedAt:    time.Now(),
	}
	if err := db.StoreLink(l); err != nil {
		log.Fatal(err)
	}
	log.Infof("Card %v linked to %v", cardID, l.ContextURI)
}

func getCardID(ctx context.Context, given string) string {
	if given != "" {
		return given
	}
	id, err := readSingleCard(ctx)
	if err != nil {
		log.Fatal(err)
	}
	return id
}
