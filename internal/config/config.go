package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/petervdpas/peercall/internal/util"
	"github.com/rs/zerolog"
)

// FileName is the config file inside a peer directory.
const FileName = "peercall.json"

type Config struct {
	Identity    Identity    `json:"identity"`
	Media       Media       `json:"media"`
	ICE         ICE         `json:"ice"`
	Signaling   Signaling   `json:"signaling"`
	Negotiation Negotiation `json:"negotiation"`
	Viewer      Viewer      `json:"viewer"`
	Log         Log         `json:"log"`
	History     History     `json:"history"`
}

// Identity modes.
const (
	IdentityRandom   = "random"
	IdentityPetname  = "petname"
	IdentityStatic   = "static"
	IdentityAssigned = "assigned"
)

type Identity struct {
	// Mode is one of random, petname, static, assigned.
	Mode string `json:"mode"`
	// PeerID is required for mode=static and ignored otherwise.
	PeerID string `json:"peer_id"`
}

type Media struct {
	Video bool `json:"video"`
	Audio bool `json:"audio"`

	// ReceiveOnly skips capture entirely; the peer only watches.
	ReceiveOnly bool `json:"receive_only"`

	MaxWidth     int `json:"max_width"`
	MaxHeight    int `json:"max_height"`
	VideoBitrate int `json:"video_bitrate"`
}

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type ICE struct {
	Servers []ICEServer `json:"servers"`

	// Optional TURN credential endpoint (GET, JSON). Empty disables the fetch.
	CredentialsURL      string `json:"credentials_url"`
	FetchTimeoutSeconds int    `json:"fetch_timeout_seconds"`
}

// Signaling transports.
const (
	TransportWS       = "ws"
	TransportMQTT     = "mqtt"
	TransportLoopback = "loopback"
)

type Signaling struct {
	Transport string `json:"transport"`
	// URL of the relay: ws(s)://host/path or tcp://broker:1883.
	URL         string `json:"url"`
	TopicPrefix string `json:"topic_prefix"`
	Username    string `json:"username"`
	Password    string `json:"password"`
}

type Negotiation struct {
	// TimeoutSeconds fails a round that has not connected in time. 0 = never.
	TimeoutSeconds         int `json:"timeout_seconds"`
	ICEDisconnectedSeconds int `json:"ice_disconnected_seconds"`
	ICEFailedSeconds       int `json:"ice_failed_seconds"`
	// Glare is "reject" or "polite".
	Glare string `json:"glare"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`
}

type Log struct {
	Level string `json:"level"`
	JSON  bool   `json:"json"`
}

type History struct {
	Enabled bool `json:"enabled"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			Mode: IdentityPetname,
		},
		Media: Media{
			Video:        true,
			Audio:        true,
			MaxWidth:     640,
			MaxHeight:    480,
			VideoBitrate: 1_500_000,
		},
		ICE: ICE{
			Servers: []ICEServer{
				{URLs: []string{"stun:stun.l.google.com:19302"}},
			},
			FetchTimeoutSeconds: 5,
		},
		Signaling: Signaling{
			Transport:   TransportWS,
			URL:         "ws://127.0.0.1:8787/signal",
			TopicPrefix: "peercall/peer",
		},
		Negotiation: Negotiation{
			TimeoutSeconds:         0,
			ICEDisconnectedSeconds: 30,
			ICEFailedSeconds:       120,
			Glare:                  "reject",
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:8080",
		},
		Log: Log{
			Level: "info",
		},
		History: History{
			Enabled: true,
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	switch c.Identity.Mode {
	case IdentityRandom, IdentityPetname, IdentityAssigned:
	case IdentityStatic:
		if _, err := util.ValidatePeerName(c.Identity.PeerID); err != nil {
			return fmt.Errorf("identity.peer_id: %w", err)
		}
	default:
		return fmt.Errorf("identity.mode must be random, petname, static or assigned (got %q)", c.Identity.Mode)
	}
	if c.Identity.Mode == IdentityAssigned && c.Signaling.Transport != TransportWS {
		return errors.New("identity.mode=assigned requires signaling.transport=ws")
	}

	// Media
	if !c.Media.ReceiveOnly && !c.Media.Video && !c.Media.Audio {
		return errors.New("media: enable video, audio or receive_only")
	}
	if c.Media.MaxWidth < 0 || c.Media.MaxHeight < 0 || c.Media.VideoBitrate < 0 {
		return errors.New("media dimensions and bitrate must be >= 0")
	}

	// ICE
	for i, s := range c.ICE.Servers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("ice.servers[%d].urls is required", i)
		}
	}
	if u := strings.TrimSpace(c.ICE.CredentialsURL); u != "" {
		if err := validateHTTPURL(u); err != nil {
			return fmt.Errorf("ice.credentials_url: %w", err)
		}
	}
	if c.ICE.FetchTimeoutSeconds < 0 || c.ICE.FetchTimeoutSeconds > 60 {
		return errors.New("ice.fetch_timeout_seconds must be 0..60")
	}

	// Signaling
	switch c.Signaling.Transport {
	case TransportLoopback:
	case TransportWS:
		if err := validateURL(c.Signaling.URL, "ws", "wss"); err != nil {
			return fmt.Errorf("signaling.url: %w", err)
		}
	case TransportMQTT:
		if err := validateURL(c.Signaling.URL, "tcp", "ssl", "ws", "wss", "mqtt", "mqtts"); err != nil {
			return fmt.Errorf("signaling.url: %w", err)
		}
		if strings.TrimSpace(c.Signaling.TopicPrefix) == "" {
			return errors.New("signaling.topic_prefix is required for mqtt")
		}
	default:
		return fmt.Errorf("signaling.transport must be ws, mqtt or loopback (got %q)", c.Signaling.Transport)
	}

	// Negotiation
	if c.Negotiation.TimeoutSeconds < 0 {
		return errors.New("negotiation.timeout_seconds must be >= 0")
	}
	if c.Negotiation.ICEDisconnectedSeconds < 0 || c.Negotiation.ICEFailedSeconds < 0 {
		return errors.New("negotiation ICE timeouts must be >= 0")
	}
	if c.Negotiation.ICEFailedSeconds > 0 && c.Negotiation.ICEDisconnectedSeconds > c.Negotiation.ICEFailedSeconds {
		return errors.New("negotiation.ice_disconnected_seconds must be <= ice_failed_seconds")
	}
	switch c.Negotiation.Glare {
	case "", "reject", "polite":
	default:
		return fmt.Errorf("negotiation.glare must be reject or polite (got %q)", c.Negotiation.Glare)
	}

	// Viewer
	if a := strings.TrimSpace(c.Viewer.HTTPAddr); a != "" {
		if _, _, err := net.SplitHostPort(a); err != nil {
			return fmt.Errorf("viewer.http_addr: %w", err)
		}
	}

	// Log
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

func validateHTTPURL(raw string) error {
	return validateURL(raw, "http", "https")
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	ok := false
	for _, s := range schemes {
		if u.Scheme == s {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("scheme must be one of %s", strings.Join(schemes, ", "))
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// NegotiationTimeout converts the configured seconds.
func (c *Config) NegotiationTimeout() time.Duration {
	return time.Duration(c.Negotiation.TimeoutSeconds) * time.Second
}

func (c *Config) FetchTimeout() time.Duration {
	if c.ICE.FetchTimeoutSeconds <= 0 {
		return util.DefaultFetchTimeout
	}
	return time.Duration(c.ICE.FetchTimeoutSeconds) * time.Second
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
