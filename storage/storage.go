// Package storage keeps card links and the Spotify login in a buntdb file.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/buntdb"
	"golang.org/x/oauth2"
)

const (
	cardPrefix = "card:"
	tokenKey   = "token:spotify"
)

var ErrNotFound = errors.New("not found")

// Link ties a card to the Spotify context that should play when the card is put on the reader.
type Link struct {
	// CardID is the hex encoded UID of the card.
	CardID string `json:"id"`
	// ContextURI is a Spotify album or playlist URI, e.g. spotify:album:1UbnWM4Qnw1uKaBuXMUAV0.
	ContextURI string `json:"contextUri"`
	// Title is a human readable name for listings and labels.
	Title   string    `json:"title,omitempty"`
	AddedAt time.Time `json:"addedAt"`
}

type DB struct {
	instance *buntdb.DB
}

// Open opens the database at path. ":memory:" gives a database that is never written to disk.
func Open(path string) (*DB, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open database %v: %w", path, err)
	}
	return &DB{instance: db}, nil
}

func (db *DB) Close() error {
	return db.instance.Close()
}

func (db *DB) StoreLink(l Link) error {
	if l.CardID == "" {
		return errors.New("link has no card id")
	}
	return db.set(getCardKey(l.CardID), l)
}

func (db *DB) ReadLink(cardID string) (Link, error) {
	var l Link
	err := db.get(getCardKey(cardID), &l)
	return l, err
}

func (db *DB) DeleteLink(cardID string) error {
	err := db.instance.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(getCardKey(cardID))
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return fmt.Errorf("card %v: %w", cardID, ErrNotFound)
	}
	return err
}

// ReadAll returns every link ordered by card id.
func (db *DB) ReadAll() ([]Link, error) {
	var links []Link
	err := db.instance.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.AscendKeys(cardPrefix+"*", func(key, value string) bool {
			var l Link
			if err := json.Unmarshal([]byte(value), &l); err != nil {
				decodeErr = fmt.Errorf("corrupt entry %v: %w", key, err)
				return false
			}
			links = append(links, l)
			return true
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	return links, err
}

// LoadToken returns the stored Spotify token, or nil when nobody has logged in yet.
func (db *DB) LoadToken() (*oauth2.Token, error) {
	var tok oauth2.Token
	err := db.get(tokenKey, &tok)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (db *DB) SaveToken(tok *oauth2.Token) error {
	if tok == nil {
		return errors.New("no token to save")
	}
	return db.set(tokenKey, tok)
}

func (db *DB) set(key string, v interface{}) error {
	return db.instance.Update(func(tx *buntdb.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, _, err := tx.Set(key, string(data), nil); err != nil {
			return err
		}
		return nil
	})
}

func (db *DB) get(key string, v interface{}) error {
	err := db.instance.View(func(tx *buntdb.Tx) error {
		s, err := tx.Get(key)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(s), v)
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return fmt.Errorf("%v: %w", strings.TrimPrefix(key, cardPrefix), ErrNotFound)
	}
	return err
}

func getCardKey(id string) string {
	return fmt.Sprintf("%v%v", cardPrefix, strings.ToLower(id))
}
