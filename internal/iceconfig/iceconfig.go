// Package iceconfig assembles the ICE server list handed to each new peer
// connection: static STUN/TURN entries from config plus optional short-lived
// TURN credentials fetched over HTTP.
package iceconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/petervdpas/peercall/internal/config"
	"github.com/petervdpas/peercall/internal/util"
)

// FallbackSTUN is used when nothing else is configured or fetched.
const FallbackSTUN = "stun:stun.l.google.com:19302"

// maxBody bounds the credentials response.
const maxBody = 64 << 10

type Provider struct {
	static  []webrtc.ICEServer
	credURL string
	timeout time.Duration
	client  *http.Client
	log     zerolog.Logger
}

// Option customises a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default client (tests use httptest's).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// New builds a provider from the ice section of the config.
func New(cfg config.ICE, opts ...Option) *Provider {
	p := &Provider{
		credURL: strings.TrimSpace(cfg.CredentialsURL),
		timeout: time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
		client:  http.DefaultClient,
		log:     log.With().Str("component", "iceconfig").Logger(),
	}
	if p.timeout <= 0 {
		p.timeout = util.DefaultFetchTimeout
	}
	for _, s := range cfg.Servers {
		if len(s.URLs) == 0 {
			continue
		}
		p.static = append(p.static, iceServer(append([]string(nil), s.URLs...), s.Username, s.Credential))
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Fetch returns the static servers followed by any fetched TURN servers.
// Fetch failures are logged and never returned; the result is never empty.
func (p *Provider) Fetch(ctx context.Context) []webrtc.ICEServer {
	out := append([]webrtc.ICEServer(nil), p.static...)

	if p.credURL != "" {
		fetched, err := p.fetchCredentials(ctx)
		if err != nil {
			p.log.Warn().Err(err).Str("url", p.credURL).Msg("TURN credentials unavailable, continuing without relay")
		} else {
			p.log.Debug().Int("servers", len(fetched)).Msg("fetched TURN credentials")
			out = append(out, fetched...)
		}
	}

	if len(out) == 0 {
		out = []webrtc.ICEServer{{URLs: []string{FallbackSTUN}}}
	}
	return out
}

// iceServerJSON is the array-element shape: [{urls, username, credential}].
// urls may be a single string or a list.
type iceServerJSON struct {
	URLs       json.RawMessage `json:"urls"`
	Username   string          `json:"username"`
	Credential string          `json:"credential"`
}

// turnCredentials is the object shape: {username, password, ttl, uris}.
type turnCredentials struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	TTL      int      `json:"ttl"`
	URIs     []string `json:"uris"`
}

func (p *Provider) fetchCredentials(ctx context.Context) ([]webrtc.ICEServer, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.credURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return Parse(body)
}

// Parse decodes either credentials shape into ICE servers.
func Parse(body []byte) ([]webrtc.ICEServer, error) {
	trimmed := strings.TrimSpace(string(body))
	switch {
	case strings.HasPrefix(trimmed, "["):
		var list []iceServerJSON
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("decode server list: %w", err)
		}
		var out []webrtc.ICEServer
		for i, s := range list {
			urls, err := decodeURLs(s.URLs)
			if err != nil {
				return nil, fmt.Errorf("server %d: %w", i, err)
			}
			if len(urls) == 0 {
				continue
			}
			out = append(out, iceServer(urls, s.Username, s.Credential))
		}
		return out, nil

	case strings.HasPrefix(trimmed, "{"):
		var creds turnCredentials
		if err := json.Unmarshal(body, &creds); err != nil {
			return nil, fmt.Errorf("decode credentials: %w", err)
		}
		if len(creds.URIs) == 0 {
			return nil, fmt.Errorf("decode credentials: no uris")
		}
		return []webrtc.ICEServer{iceServer(creds.URIs, creds.Username, creds.Password)}, nil
	}
	return nil, fmt.Errorf("unrecognised credentials response")
}

// iceServer leaves Credential nil for servers without one; pion's
// Credential is an interface and treats "" as a set password.
func iceServer(urls []string, username, credential string) webrtc.ICEServer {
	s := webrtc.ICEServer{URLs: urls, Username: username}
	if credential != "" {
		s.Credential = credential
	}
	return s
}

func decodeURLs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil, nil
		}
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("urls: %w", err)
	}
	return many, nil
}
