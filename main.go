// main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/petervdpas/peercall/internal/app"
	"github.com/petervdpas/peercall/internal/applog"
	"github.com/petervdpas/peercall/internal/call"
	"github.com/petervdpas/peercall/internal/config"
	"github.com/petervdpas/peercall/internal/signaling"
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	root := &cobra.Command{
		Use:           "peercall",
		Short:         "One-to-one WebRTC calls between two peers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(peerCmd(), relayCmd(), historyCmd(), versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func peerDir(arg string) (string, error) {
	absDir, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("invalid peer directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return "", fmt.Errorf("create peer directory: %w", err)
	}
	return absDir, nil
}

func peerCmd() *cobra.Command {
	var (
		open        bool
		dial        string
		transport   string
		signalURL   string
		peerID      string
		logLevel    string
		httpAddr    string
		receiveOnly bool
	)
	cmd := &cobra.Command{
		Use:   "peer <peer-directory>",
		Short: "Run a peer from a directory (created with a default peercall.json when missing)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absDir, err := peerDir(args[0])
			if err != nil {
				return err
			}
			cfgPath := filepath.Join(absDir, config.FileName)
			cfg, created, err := config.Ensure(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if created {
				fmt.Printf("Created default config: %s\n", cfgPath)
			}

			// Flags override the file for this run only.
			f := cmd.Flags()
			if f.Changed("transport") {
				cfg.Signaling.Transport = transport
			}
			if f.Changed("signal-url") {
				cfg.Signaling.URL = signalURL
			}
			if f.Changed("peer-id") {
				cfg.Identity.Mode = config.IdentityStatic
				cfg.Identity.PeerID = peerID
			}
			if f.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if f.Changed("http") {
				cfg.Viewer.HTTPAddr = httpAddr
			}
			if f.Changed("receive-only") {
				cfg.Media.ReceiveOnly = receiveOnly
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}

			return app.Run(cmd.Context(), app.Options{
				PeerDir:     absDir,
				CfgPath:     cfgPath,
				Cfg:         cfg,
				OpenBrowser: open,
				Dial:        call.PeerIdentity(dial),
			})
		},
	}
	f := cmd.Flags()
	f.BoolVar(&open, "open", false, "open the viewer in the system browser")
	f.StringVar(&dial, "call", "", "call this peer as soon as the session is ready")
	f.StringVar(&transport, "transport", "", "signaling transport: ws, mqtt or loopback")
	f.StringVar(&signalURL, "signal-url", "", "signaling relay or broker URL")
	f.StringVar(&peerID, "peer-id", "", "use this static peer identity")
	f.StringVar(&logLevel, "log-level", "", "trace, debug, info, warn or error")
	f.StringVar(&httpAddr, "http", "", "viewer listen address (empty disables the viewer)")
	f.BoolVar(&receiveOnly, "receive-only", false, "do not capture local media")
	return cmd
}

func relayCmd() *cobra.Command {
	var addr, logLevel string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a websocket signaling relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := applog.Setup(logLevel, false); err != nil {
				return err
			}
			mux := http.NewServeMux()
			mux.Handle("/signal", signaling.NewRelay(nil))
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()
			log.Info().Str("addr", addr).Msg("relay listening on /signal")

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}

func historyCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history <peer-directory>",
		Short: "List recent calls of a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			absDir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			calls, err := app.ListHistory(cmd.Context(), absDir, limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(calls)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tREMOTE\tDIRECTION\tDURATION\tRESULT\tERROR")
			for _, c := range calls {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					c.StartedAt.Local().Format(time.DateTime), c.RemotePeer, c.Direction,
					c.EndedAt.Sub(c.StartedAt).Round(time.Second), c.FinalState, c.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of calls to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "peercall v%s\n", appVersion)
		},
	}
}
