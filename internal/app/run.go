package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/petervdpas/peercall/internal/applog"
	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/config"
	"github.com/petervdpas/peercall/internal/signaling"
	"github.com/petervdpas/peercall/internal/storage"
	"github.com/petervdpas/peercall/internal/util"
	"github.com/petervdpas/peercall/internal/viewer"
	"github.com/petervdpas/peercall/internal/viewer/routes"
)

type Options struct {
	PeerDir string
	CfgPath string
	Cfg     config.Config

	// OpenBrowser opens the viewer once it is listening.
	OpenBrowser bool
	// Dial, when set, calls this peer as soon as the session is ready.
	Dial call.PeerIdentity
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Run starts one peer and blocks until ctx is cancelled.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	unlock, err := LockPeerDir(opt.PeerDir)
	if err != nil {
		return err
	}
	defer unlock()

	logTail := applog.NewTail(800)
	base, err := applog.Setup(cfg.Log.Level, cfg.Log.JSON, logTail)
	if err != nil {
		return err
	}
	lf := applog.NewLoggerFactory(base)

	logBanner(opt.PeerDir, opt.CfgPath)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// History
	var (
		db       *storage.DB
		recorder call.Recorder
	)
	if cfg.History.Enabled {
		db, err = storage.Open(opt.PeerDir)
		if err != nil {
			return fmt.Errorf("open call history: %w", err)
		}
		defer db.Close()
		recorder = db
		log.Info().Str("path", db.Path()).Msg("call history enabled")
	}

	// Identity + signaling
	identity, assigned, err := newIdentity(cfg.Identity)
	if err != nil {
		return err
	}
	media := newAcquirer(cfg.Media, lf)
	pcs := newPeerConnections(cfg, media, lf)

	var hub *signaling.Hub
	if cfg.Signaling.Transport == config.TransportLoopback {
		hub = signaling.NewHub()
		echo, err := startEcho(ctx, hub, pcs)
		if err != nil {
			return fmt.Errorf("start echo peer: %w", err)
		}
		defer echo.Close()
	}

	sig, err := dialSignaler(ctx, cfg, identity, assigned, hub)
	if err != nil {
		return fmt.Errorf("signaling: %w", err)
	}
	defer sig.Close()

	listenAddr, baseURL := NormalizeLocalViewer(cfg.Viewer.HTTPAddr)

	mgr, err := call.New(call.ManagerConfig{
		Session: call.SessionConfig{
			Identity:           identity,
			Media:              media,
			Constraints:        call.Constraints{Video: cfg.Media.Video, Audio: cfg.Media.Audio},
			Signaler:           sig,
			NewPeerConnection:  pcs,
			Renderer:           logRenderer{who: "self"},
			Glare:              newGlare(cfg.Negotiation.Glare),
			NegotiationTimeout: cfg.NegotiationTimeout(),
			LoggerFactory:      lf,
			OnIdentity: func(id call.PeerIdentity) {
				log.Info().Str("peer", string(id)).Str("share_url", routes.ShareURL(baseURL, id)).Msg("identity ready")
			},
		},
		Recorder: recorder,
	})
	if err != nil {
		return err
	}
	defer mgr.Close()

	// Live config: only the log level is applied without a restart.
	go func() {
		err := config.Watch(ctx, opt.CfgPath, func(c config.Config) {
			if err := applog.SetLevel(c.Log.Level); err != nil {
				log.Warn().Err(err).Msg("config reload")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("config watcher stopped")
		}
	}()

	// Viewer
	viewerErr := make(chan error, 1)
	if listenAddr != "" {
		v := viewer.Viewer{Call: mgr, Logs: logTail, BaseURL: baseURL, Logger: base}
		if db != nil {
			v.History = db
		}
		go func() { viewerErr <- viewer.Start(ctx, listenAddr, v) }()

		if err := WaitTCP(listenAddr, 5*time.Second); err != nil {
			log.Warn().Err(err).Msg("viewer not reachable")
		} else {
			log.Info().Str("url", baseURL).Msg("viewer listening")
			if opt.OpenBrowser {
				if err := util.OpenURL(baseURL); err != nil {
					log.Warn().Err(err).Msg("open browser")
				}
			}
		}
	}

	// Session start failures leave the viewer up so the user can reset.
	if err := mgr.Start(ctx); err != nil {
		log.Error().Err(err).Msg("call session failed to start")
	} else if opt.Dial != "" {
		if err := mgr.Call(ctx, opt.Dial); err != nil {
			log.Error().Err(err).Str("remote", string(opt.Dial)).Msg("dial failed")
		}
	}

	select {
	case <-ctx.Done():
	case err := <-viewerErr:
		if err != nil {
			return fmt.Errorf("viewer: %w", err)
		}
	}
	log.Info().Msg("shutting down")
	return nil
}

// ListHistory reads the most recent calls from a peer directory.
func ListHistory(ctx context.Context, peerDir string, limit int) ([]call.CallRecord, error) {
	db, err := storage.Open(peerDir)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.ListCalls(ctx, limit)
}
