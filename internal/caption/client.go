package caption

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MimeLyc/transcript-collector/internal/transcript"
)

const (
	DefaultWatchURL       = "https://www.youtube.com/watch"
	DefaultAcceptLanguage = "en-US,en;q=0.8"
)

// Track is one caption track offered for a video.
type Track struct {
	LanguageCode string
	Name         string
	Generated    bool
	Translatable bool
	BaseURL      string
}

type resTrack struct {
	BaseUrl string `json:"baseUrl"`
	Name    struct {
		SimpleText string `json:"simpleText"`
		Runs       []struct {
			Text string `json:"text"`
		} `json:"runs"`
	} `json:"name"`
	LanguageCode   string `json:"languageCode"`
	Kind           string `json:"kind"`
	IsTranslatable bool   `json:"isTranslatable"`
}

type resCaptions struct {
	PlayerCaptionsTracklistRenderer struct {
		CaptionTracks []resTrack `json:"captionTracks"`
	} `json:"playerCaptionsTracklistRenderer"`
}

type timedText struct {
	Entries []struct {
		Text  string  `xml:",chardata"`
		Start float64 `xml:"start,attr"`
		Dur   float64 `xml:"dur,attr"`
	} `xml:"text"`
}

type Client struct {
	http           *http.Client
	watchURL       string
	acceptLanguage string
}

type Option func(*Client)

func WithWatchURL(u string) Option {
	return func(c *Client) {
		c.watchURL = u
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithAcceptLanguage(v string) Option {
	return func(c *Client) {
		c.acceptLanguage = v
	}
}

// NewClient creates a caption client; timeout bounds every single request.
func NewClient(timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		http:           &http.Client{Timeout: timeout},
		watchURL:       DefaultWatchURL,
		acceptLanguage: DefaultAcceptLanguage,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListTracks scrapes the watch page of videoID for its caption tracks.
func (c *Client) ListTracks(ctx context.Context, videoID string) ([]Track, error) {
	u, err := url.Parse(c.watchURL)
	if err != nil {
		return nil, fmt.Errorf("parse watch url: %w", err)
	}
	q := u.Query()
	q.Set("v", videoID)
	u.RawQuery = q.Encode()

	status, content, err := c.get(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("requesting watch page of %q: %w", videoID, err)
	}
	page := string(content)

	if status == http.StatusTooManyRequests {
		return nil, fmt.Errorf("watch page of %q: %w", videoID, transcript.ErrTooManyRequests)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("watch page of %q responded with status code %d", videoID, status)
	}
	if strings.Contains(page, `action="https://consent.youtube.com/s"`) {
		return nil, fmt.Errorf("watch page of %q returned a consent form", videoID)
	}

	split := strings.SplitN(page, `"captions":`, 2)
	if len(split) <= 1 {
		switch {
		case strings.Contains(page, `class="g-recaptcha"`):
			return nil, fmt.Errorf("video %q got captcha: %w", videoID, transcript.ErrTooManyRequests)
		case unplayable(page):
			return nil, fmt.Errorf("video %q not playable: %w", videoID, transcript.ErrUnavailable)
		default:
			return nil, fmt.Errorf("video %q has no captions json: %w", videoID, transcript.ErrDisabled)
		}
	}

	// The captions object is followed by the rest of the player response; decode just the first value.
	var captions resCaptions
	if err := json.NewDecoder(strings.NewReader(split[1])).Decode(&captions); err != nil {
		return nil, fmt.Errorf("could not unmarshal caption results of %q: %w", videoID, err)
	}

	raw := captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	tracks := make([]Track, 0, len(raw))
	for _, t := range raw {
		name := t.Name.SimpleText
		if name == "" && len(t.Name.Runs) > 0 {
			name = t.Name.Runs[0].Text
		}
		tracks = append(tracks, Track{
			LanguageCode: t.LanguageCode,
			Name:         name,
			Generated:    t.Kind == "asr",
			Translatable: t.IsTranslatable,
			BaseURL:      t.BaseUrl,
		})
	}
	return tracks, nil
}

// FetchText downloads a track and flattens it into newline separated lines.
func (c *Client) FetchText(ctx context.Context, track Track) (string, error) {
	if track.BaseURL == "" {
		return "", fmt.Errorf("track %q has no url", track.LanguageCode)
	}

	status, body, err := c.get(ctx, track.BaseURL)
	if err != nil {
		return "", fmt.Errorf("captions request: %w", err)
	}
	if status == http.StatusTooManyRequests {
		return "", fmt.Errorf("captions file: %w", transcript.ErrTooManyRequests)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("captions file status code %d", status)
	}

	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", fmt.Errorf("could not parse transcript xml: %w", err)
	}

	lines := make([]string, 0, len(tt.Entries))
	for _, entry := range tt.Entries {
		txt := strings.TrimSpace(html.UnescapeString(entry.Text))
		if txt == "" {
			continue
		}
		lines = append(lines, txt)
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Client) get(ctx context.Context, target string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, err
	}
	if c.acceptLanguage != "" {
		req.Header.Set("Accept-Language", c.acceptLanguage)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("reading response body: %w", err)
	}
	return res.StatusCode, body, nil
}

func unplayable(page string) bool {
	for _, status := range []string{`"status":"ERROR"`, `"status":"LOGIN_REQUIRED"`, `"status":"UNPLAYABLE"`} {
		if strings.Contains(page, `"playabilityStatus":{`+status) {
			return true
		}
	}
	return false
}
