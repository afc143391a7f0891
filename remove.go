package main

import (
	"context"

	log "github.com/sirupsen/logrus"
)

func unlinkCard(ctx context.Context) {
	cardID := getCardID(ctx, *unlinkCardID)

	db := openDB()
	defer db.Close()

	if err := db.DeleteLink(cardID); err != nil {
		log.Warnf("Could not remove card %v: %v", cardID, err.Error())
		return
	}
	log.Infof("Card %v unlinked", cardID)
}
