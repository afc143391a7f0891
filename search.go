package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

const searchLimit = 20

func searchAlbum(ctx context.Context) {
	db := openDB()
	defer db.Close()

	r, err := loggedInClient(db).SearchAlbums(ctx, *searchString, searchLimit)
	if err != nil {
		log.Error(err)
		return
	}

	if len(r.Items) > 0 {
		if len(r.Items) < r.Total {
			fmt.Printf("Too many matches (%v). Only showing the first %v.\n\n", r.Total, len(r.Items))
		}
		fmt.Println("                    ID │ Artist - Title")
		fmt.Println("───────────────────────┼────────────────────")
		for _, v := range r.Items {
			fmt.Printf("%22v │ %v - %v\n", v.ID, checkLength(v.Artist(), 50), checkLength(v.Name, 75))
		}
	} else {
		fmt.Println("No matches. Try a different query string.")
	}
}
