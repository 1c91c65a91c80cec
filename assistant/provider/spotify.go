package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/theimaginaryfoundation/jarvis/assistant"
	"github.com/theimaginaryfoundation/jarvis/assistant/fileutils"
)

const (
	spotifyAPI       = "https://api.spotify.com/v1"
	spotifyAuthURL   = "https://accounts.spotify.com/authorize"
	spotifyTokenURL  = "https://accounts.spotify.com/api/token"
	spotifyPlayScope = "user-modify-playback-state user-read-playback-state"
)

type SpotifyOptions struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// APIBase and TokenURL override the public endpoints.
	APIBase  string
	TokenURL string
	Timeout  time.Duration
	Breaker  *Breaker
}

// Spotify implements assistant.Player against the Spotify Web API. Access tokens are
// refreshed from the stored refresh token as needed.
type Spotify struct {
	base    string
	http    *http.Client
	breaker *Breaker
}

var _ assistant.Player = (*Spotify)(nil)

func NewSpotify(ctx context.Context, opts SpotifyOptions) (*Spotify, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" || opts.RefreshToken == "" {
		return nil, assistant.E(assistant.KindConfiguration, "spotify", assistant.ErrNotConfigured)
	}
	if opts.APIBase == "" {
		opts.APIBase = spotifyAPI
	}
	if opts.TokenURL == "" {
		opts.TokenURL = spotifyTokenURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	cfg := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: spotifyAuthURL, TokenURL: opts.TokenURL},
		Scopes:       strings.Fields(spotifyPlayScope),
	}
	client := cfg.Client(ctx, &oauth2.Token{RefreshToken: opts.RefreshToken})
	client.Timeout = opts.Timeout
	return &Spotify{base: strings.TrimRight(opts.APIBase, "/"), http: client, breaker: opts.Breaker}, nil
}

func (s *Spotify) Devices(ctx context.Context) ([]assistant.Device, error) {
	return Call(s.breaker, func() ([]assistant.Device, error) {
		var out struct {
			Devices []assistant.Device `json:"devices"`
		}
		if err := s.do(ctx, http.MethodGet, "/me/player/devices", nil, nil, &out); err != nil {
			return nil, err
		}
		return out.Devices, nil
	})
}

func (s *Spotify) Play(ctx context.Context, deviceID string, target assistant.PlaybackTarget) error {
	_, err := Call(s.breaker, func() (struct{}, error) {
		dev := url.Values{}
		if deviceID != "" {
			dev.Set("device_id", deviceID)
		}
		body := map[string]any{}
		switch {
		case target.PlaylistURI != "":
			body["context_uri"] = target.PlaylistURI
		case len(target.TrackURIs) > 0:
			body["uris"] = target.TrackURIs
		default:
			return struct{}{}, fmt.Errorf("spotify play: empty target")
		}
		if target.Shuffle {
			q := url.Values{"state": {"true"}}
			for k, v := range dev {
				q[k] = v
			}
			if err := s.do(ctx, http.MethodPut, "/me/player/shuffle", q, nil, nil); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, s.do(ctx, http.MethodPut, "/me/player/play", dev, body, nil)
	})
	return err
}

func (s *Spotify) Search(ctx context.Context, query, kind string, limit int) ([]assistant.Track, error) {
	if kind == "" {
		kind = "track"
	}
	return Call(s.breaker, func() ([]assistant.Track, error) {
		var out struct {
			Tracks struct {
				Items []struct {
					URI     string `json:"uri"`
					Name    string `json:"name"`
					Artists []struct {
						Name string `json:"name"`
					} `json:"artists"`
				} `json:"items"`
			} `json:"tracks"`
		}
		q := url.Values{"q": {query}, "type": {kind}, "limit": {strconv.Itoa(limit)}}
		if err := s.do(ctx, http.MethodGet, "/search", q, nil, &out); err != nil {
			return nil, err
		}
		tracks := make([]assistant.Track, 0, len(out.Tracks.Items))
		for _, it := range out.Tracks.Items {
			t := assistant.Track{URI: it.URI, Name: it.Name}
			if len(it.Artists) > 0 {
				t.Artist = it.Artists[0].Name
			}
			tracks = append(tracks, t)
		}
		return tracks, nil
	})
}

func (s *Spotify) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	u := s.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("spotify %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("spotify %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("spotify %s %s: status %d: %s", method, path, resp.StatusCode, fileutils.Truncate(string(raw), 300))
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("spotify %s %s: decode: %w", method, path, err)
	}
	return nil
}
