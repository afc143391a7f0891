package spotify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/musikboxeins/musikbox/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	expiryDelta    = 10 * time.Second
	minRefreshWait = 5 * time.Second
)

// TokenStore persists the token so a restart does not need a new login.
type TokenStore interface {
	LoadToken() (*oauth2.Token, error)
	SaveToken(tok *oauth2.Token) error
}

func NewOAuthConfig(clientID, clientSecret, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   AuthURL,
			TokenURL:  TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

// Credentials owns the token of the logged in account. Token hands out a valid access token and
// refreshes it on demand, Run refreshes it ahead of time at half of its remaining lifetime.
type Credentials struct {
	config *oauth2.Config
	store  TokenStore
	clock  clockwork.Clock
	log    logrus.FieldLogger

	mu      sync.Mutex
	token   *oauth2.Token
	changed chan struct{}

	refreshMu sync.Mutex
}

// NewCredentials picks up a previously stored token when the store has one. store may be nil.
func NewCredentials(config *oauth2.Config, store TokenStore, clock clockwork.Clock, logger logrus.FieldLogger) (*Credentials, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Credentials{
		config:  config,
		store:   store,
		clock:   clock,
		log:     logger,
		changed: make(chan struct{}, 1),
	}
	if store != nil {
		tok, err := store.LoadToken()
		if err != nil {
			return nil, fmt.Errorf("could not load the stored token: %w", err)
		}
		if tok != nil {
			logger.Infof("Using stored Spotify token, expires %v", tok.Expiry.Format(time.RFC3339))
			c.token = tok
		}
	}
	return c, nil
}

func (c *Credentials) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token and starts using it.
func (c *Credentials) Exchange(ctx context.Context, code string) error {
	tok, err := c.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}
	c.set(tok)
	c.log.Infof("Logged in to Spotify, token expires %v", tok.Expiry.Format(time.RFC3339))
	return nil
}

// LoggedIn reports whether a token, valid or not, is held.
func (c *Credentials) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != nil
}

// Token returns a valid token, refreshing an expired one first.
func (c *Credentials) Token(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()

	if tok == nil {
		return nil, ErrNotAuthorized
	}
	if c.valid(tok) {
		return tok, nil
	}
	return c.refresh(ctx, false)
}

// Run refreshes the token on schedule until the context is cancelled. A new login reschedules.
func (c *Credentials) Run(ctx context.Context) {
	// a login before Run is picked up by the first schedule
	select {
	case <-c.changed:
	default:
	}

	for {
		var timer clockwork.Timer
		var fire <-chan time.Time
		if wait, ok := c.nextRefresh(); ok {
			c.log.Debugf("Refreshing the Spotify token in %v", wait)
			timer = c.clock.NewTimer(wait)
			fire = timer.Chan()
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-c.changed:
			stopTimer(timer)
		case <-fire:
			if _, err := c.refresh(ctx, true); err != nil {
				c.log.Warnf("Scheduled token refresh failed: %v", err)
			} else {
				c.log.Info("Spotify token refreshed")
			}
		}
	}
}

func (c *Credentials) nextRefresh() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil || c.token.RefreshToken == "" || c.token.Expiry.IsZero() {
		return 0, false
	}
	remaining := c.token.Expiry.Sub(c.clock.Now())
	if remaining <= 0 {
		// left to the next Token call
		return 0, false
	}
	wait := remaining / 2
	if wait < minRefreshWait {
		wait = minRefreshWait
	}
	return wait, true
}

func (c *Credentials) refresh(ctx context.Context, force bool) (*oauth2.Token, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.Lock()
	current := c.token
	c.mu.Unlock()

	if current == nil {
		return nil, ErrNotAuthorized
	}
	if !force && c.valid(current) {
		// somebody else refreshed while we waited
		return current, nil
	}
	if current.RefreshToken == "" {
		return nil, fmt.Errorf("token expired without a refresh token: %w", ErrNotAuthorized)
	}

	tok, err := c.config.TokenSource(ctx, &oauth2.Token{RefreshToken: current.RefreshToken}).Token()
	metrics.TokenRefreshes.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = current.RefreshToken
	}
	c.set(tok)
	return tok, nil
}

func (c *Credentials) set(tok *oauth2.Token) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveToken(tok); err != nil {
			c.log.Warnf("Could not persist the Spotify token: %v", err)
		}
	}

	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *Credentials) valid(tok *oauth2.Token) bool {
	if tok.AccessToken == "" {
		return false
	}
	if tok.Expiry.IsZero() {
		return true
	}
	return c.clock.Now().Add(expiryDelta).Before(tok.Expiry)
}

func stopTimer(timer clockwork.Timer) {
	if timer != nil {
		timer.Stop()
	}
}
