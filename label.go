package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/musikboxeins/musikbox/label"
	"github.com/musikboxeins/musikbox/spotify"
	"github.com/musikboxeins/musikbox/storage"
	log "github.com/sirupsen/logrus"
)

func createLabel(ctx context.Context) {
	db := openDB()
	defer db.Close()
	client := loggedInClient(db)

	albumIDs, err := labelAlbums(ctx, db)
	if err != nil {
		log.Fatal(err)
	}

	var cards []label.Card
	for _, id := range albumIDs {
		album, err := client.Album(ctx, id)
		if err != nil {
			log.Warn(err)
			continue
		}
		cards = append(cards, label.Card{
			ID:     album.ID,
			Title:  album.Name,
			Artist: album.Artist(),
			Cover:  label.FetchCover(ctx, http.DefaultClient, album.CoverURL()),
		})
	}

	if *labelSheet {
		createSheets(cards)
		return
	}
	for _, c := range cards {
		generateLabel(c)
	}
}

// labelAlbums resolves which albums to print: the given album, the albums linked to the given
// cards, every linked album for a sheet, or the album of a card put on the reader.
func labelAlbums(ctx context.Context, db *storage.DB) ([]string, error) {
	if *labelAlbumID != "" {
		return []string{*labelAlbumID}, nil
	}

	var links []storage.Link
	switch {
	case len(*labelCardIDs) > 0:
		for _, c := range *labelCardIDs {
			l, err := db.ReadLink(c)
			if err != nil {
				log.Warnf("Card %v: %v", c, err)
				continue
			}
			links = append(links, l)
		}
	case *labelSheet:
		all, err := db.ReadAll()
		if err != nil {
			return nil, err
		}
		links = all
	default:
		l, err := db.ReadLink(getCardID(ctx, ""))
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}

	var ids []string
	for _, l := range links {
		kind, id, err := spotify.ParseURI(l.ContextURI)
		if err != nil || kind != "album" {
			log.Warnf("Card %v is linked to %v, only albums get labels", l.CardID, l.ContextURI)
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no albums to create labels for")
	}
	return ids, nil
}

func createSheets(cards []label.Card) {
	step := label.LabelsPerSheet
	for i := 0; i*step < len(cards); i++ {
		index := i * step
		writePNG(fmt.Sprintf("sheet%v.png", i), func(f *os.File) error {
			return label.CreateLabelSheet(cards[index:min(index+step, len(cards))], *labelFont, f)
		})
	}
}

func generateLabel(c label.Card) {
	writePNG(fmt.Sprintf("%v.png", c.ID), func(f *os.File) error {
		return label.CreateLabel(c, *labelFont, f)
	})
}

func writePNG(file string, render func(f *os.File) error) {
	log.Infof("Generating %v", file)
	f, err := os.Create(file)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	if err := render(f); err != nil {
		log.Fatal(err)
	}
}
