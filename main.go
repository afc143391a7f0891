package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/musikboxeins/musikbox/bridge"
	"github.com/musikboxeins/musikbox/label"
	"github.com/musikboxeins/musikbox/nfc"
	"github.com/musikboxeins/musikbox/spotify"
	"github.com/musikboxeins/musikbox/storage"
	"github.com/musikboxeins/musikbox/ui"
	log "github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app    = kingpin.New("musikbox", "Music box that plays Spotify albums from RFID cards and from the MusikBoxEins web client.")
	debug  = app.Flag("debug", "Enable debug logging, including a line for every card poll tick without a card.").Envar("MUSIKBOX_DEBUG").Bool()
	dbPath = app.Flag("db", "Path of the card database.").Envar("MUSIKBOX_DB").Default("musikbox.db").String()

	spiBus    = app.Flag("spi-bus", "SPI bus of the card reader.").Default("0").Int()
	spiDevice = app.Flag("spi-device", "SPI chip select of the card reader.").Default("0").Int()
	spiSpeed  = app.Flag("spi-speed", "SPI clock of the card reader in Hz.").Default("1000000").Int()
	resetPin  = app.Flag("reset-pin", "BCM number of the reader reset pin.").Default("25").Int()
	cardKey   = app.Flag("key", "Key A of the sector that is read, as hex.").Default(nfc.DefaultKey).String()
	cardBlock = app.Flag("block", "Data block that is read from every card.").Default("8").Uint8()

	clientID     = app.Flag("client-id", "Spotify application client id.").Envar("SPOTIFY_CLIENT_ID").String()
	clientSecret = app.Flag("client-secret", "Spotify application client secret.").Envar("SPOTIFY_CLIENT_SECRET").String()
	redirectURI  = app.Flag("redirect-uri", "OAuth redirect URI registered for the application.").Envar("SPOTIFY_REDIRECT_URI").Default("http://localhost:3000/callback").String()
	deviceID     = app.Flag("device-id", "Spotify Connect device to play on. The active device is used when empty.").Envar("SPOTIFY_DEVICE_ID").String()
	apiURL       = app.Flag("spotify-api", "Base URL of the Spotify Web API.").Default(spotify.BaseURL).Hidden().String()

	start          = app.Command("start", "Start the music box: card reader, web socket bridge and web client.")
	port           = start.Flag("port", "Port to listen on.").Envar("PORT").Default("3000").Int()
	publicDir      = start.Flag("public", "Directory with the static web client.").Default("public").String()
	target         = start.Flag("album", "Context URI played for every web client event.").Default(bridge.DefaultTarget).String()
	interval       = start.Flag("interval", "Card poll interval.").Default("500ms").Duration()
	playLinked     = start.Flag("play-linked-cards", "Start playback when a linked card is put on the reader.").Bool()
	allowedOrigins = start.Flag("allowed-origin", "Origin allowed to use the socket and API besides the own host. Repeatable, * allows all.").Strings()
	buzzerPin      = start.Flag("buzzer-pin", "GPIO of the buzzer.").Default(ui.DefaultBuzzerPin).String()

	dump = app.Command("dump", "Read a card and dump the available information onto standard out.")

	cards = app.Command("cards", "List all linked cards.")

	link       = app.Command("link", "Link a card to a Spotify album or playlist.")
	linkURI    = link.Arg("uri", "Spotify context URI, e.g. spotify:album:1UbnWM4Qnw1uKaBuXMUAV0.").Required().String()
	linkCardID = link.Flag("card-id", "Manually specify the card id to be used. If not provided, a card will be requested.").String()
	linkTitle  = link.Flag("title", "Title shown in listings. Looked up for albums when not provided.").String()

	unlink       = app.Command("unlink", "Remove the link of a card.")
	unlinkCardID = unlink.Flag("card-id", "Manually specify the card id to be used. If not provided, a card will be requested.").String()

	search       = app.Command("search", "Search for albums on Spotify.")
	searchString = search.Arg("query", "The string to search on.").Required().String()

	labelCmd     = app.Command("label", "Create a label for a card.")
	labelAlbumID = labelCmd.Flag("id", "The Spotify id of the album. If not provided, the linked album of the card is used.").String()
	labelCardIDs = labelCmd.Flag("card-id", "Card to create a label for. Repeatable.").Strings()
	labelSheet   = labelCmd.Flag("sheet", "Lay out labels on A4 sheets. Uses all linked cards when no card is given.").Bool()
	labelFont    = labelCmd.Flag("font", "TrueType font used for the text.").Default(label.DefaultFontFile).String()
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warnf("Could not load .env: %v", err)
	}

	command := kingpin.MustParse(app.Parse(os.Args[1:]))
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case start.FullCommand():
		if err := startPlayer(ctx); err != nil {
			stop()
			log.Fatal(err)
		}
	case dump.FullCommand():
		dumpCard(ctx)
	case cards.FullCommand():
		dumpAll()
	case link.FullCommand():
		linkCard(ctx)
	case unlink.FullCommand():
		unlinkCard(ctx)
	case search.FullCommand():
		searchAlbum(ctx)
	case labelCmd.FullCommand():
		createLabel(ctx)
	default:
		kingpin.FatalUsage("Unrecognized command")
	}
}

func openDB() *storage.DB {
	db, err := storage.Open(*dbPath)
	if err != nil {
		log.Fatal(err)
	}
	return db
}

func openReader() nfc.Reader {
	reader, err := nfc.OpenReader(nfc.Config{
		Bus:        *spiBus,
		Device:     *spiDevice,
		MaxSpeedHz: *spiSpeed,
		ResetPin:   *resetPin,
	})
	if err != nil {
		log.Fatalf("Could not open the card reader: %v", err)
	}
	return reader
}

func pollerConfig() nfc.PollerConfig {
	key, err := nfc.ParseKey(*cardKey)
	if err != nil {
		kingpin.Fatalf("%v", err)
	}
	cfg := nfc.DefaultPollerConfig()
	cfg.Key = key
	cfg.Block = *cardBlock
	if *interval > 0 {
		cfg.Interval = *interval
	}
	return cfg
}

// newSpotify sets up the login and API client of the account stored in db.
func newSpotify(db *storage.DB) (*spotify.Credentials, *spotify.Client) {
	if *clientID == "" || *clientSecret == "" {
		kingpin.Fatalf("SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET are required")
	}
	config := spotify.NewOAuthConfig(*clientID, *clientSecret, *redirectURI)
	creds, err := spotify.NewCredentials(config, db, nil, log.StandardLogger())
	if err != nil {
		log.Fatal(err)
	}
	client := spotify.NewClient(creds, http.DefaultClient, *apiURL)
	client.DeviceID = *deviceID
	return creds, client
}

// loggedInClient is for the one shot commands, which cannot do the login themselves.
func loggedInClient(db *storage.DB) *spotify.Client {
	creds, client := newSpotify(db)
	if !creds.LoggedIn() {
		log.Fatal("Not logged in to Spotify. Run start and visit /login first.")
	}
	return client
}
