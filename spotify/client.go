package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// TokenSource hands out valid access tokens. *Credentials is one.
type TokenSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Client is a Web API client acting as the logged in user.
type Client struct {
	tokens     TokenSource
	httpClient *http.Client
	baseURL    string
	// DeviceID targets a specific Spotify Connect device. Empty plays on the active device.
	DeviceID string
}

// NewClient creates a client. An empty baseURL talks to the real API.
func NewClient(tokens TokenSource, httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = BaseURL
	}
	return &Client{
		tokens:     tokens,
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// Artist is a simplified artist object.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type Album struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Artists     []Artist `json:"artists"`
	ReleaseDate string   `json:"release_date"`
	TotalTracks int      `json:"total_tracks"`
	Images      []Image  `json:"images"`
	URI         string   `json:"uri"`
}

// Artist joins the names of all album artists.
func (a Album) Artist() string {
	names := make([]string, 0, len(a.Artists))
	for _, artist := range a.Artists {
		names = append(names, artist.Name)
	}
	return strings.Join(names, ", ")
}

// CoverURL is the widest cover image, or empty when the album has none.
func (a Album) CoverURL() string {
	best := Image{}
	for _, img := range a.Images {
		if img.Width >= best.Width {
			best = img
		}
	}
	return best.URL
}

func (a Album) String() string {
	return fmt.Sprintf("ID: %v, artist: %v, title: %v, tracks: %v", a.ID, a.Artist(), a.Name, a.TotalTracks)
}

// Play starts playback of an album, playlist or artist context.
func (c *Client) Play(ctx context.Context, contextURI string) error {
	endpoint := "/me/player/play"
	if c.DeviceID != "" {
		endpoint += "?device_id=" + url.QueryEscape(c.DeviceID)
	}
	body := struct {
		ContextURI string `json:"context_uri"`
	}{contextURI}
	return c.do(ctx, http.MethodPut, endpoint, body, nil)
}

func (c *Client) Album(ctx context.Context, albumID string) (*Album, error) {
	var album Album
	if err := c.do(ctx, http.MethodGet, "/albums/"+url.PathEscape(albumID), nil, &album); err != nil {
		return nil, err
	}
	return &album, nil
}

// SearchResult is one page of album matches.
type SearchResult struct {
	Items []Album `json:"items"`
	Total int     `json:"total"`
}

// SearchAlbums returns the first limit albums matching query.
func (c *Client) SearchAlbums(ctx context.Context, query string, limit int) (*SearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "album")
	q.Set("limit", fmt.Sprint(limit))

	var result struct {
		Albums SearchResult `json:"albums"`
	}
	if err := c.do(ctx, http.MethodGet, "/search?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return &result.Albums, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	tok.SetAuthHeader(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return decodeError(resp.StatusCode, b)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
