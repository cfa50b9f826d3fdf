package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ZentaChain/marp-node/pkg/api"
	"github.com/ZentaChain/marp-node/pkg/config"
	"github.com/ZentaChain/marp-node/pkg/node"
)

const heartbeatInterval = 5 * time.Minute

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "answer MARP queries over UDP, libp2p and the HTTP API",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "listen", Usage: "UDP listen address, e.g. 0.0.0.0:5380"},
		&cli.StringFlag{Name: "data-dir", Usage: "directory holding the local store"},
		&cli.StringFlag{Name: "api", Usage: "HTTP API listen address"},
		&cli.BoolFlag{Name: "no-api", Usage: "disable the HTTP API"},
		&cli.BoolFlag{Name: "p2p", Usage: "enable the libp2p transport"},
		&cli.StringSliceFlag{Name: "peer", Usage: "recursion peer, host:port or multiaddr (repeatable)"},
		&cli.StringSliceFlag{Name: "trust", Usage: "trusted authority public key in hex (repeatable)"},
		&cli.StringFlag{Name: "authority-key", Usage: "sign published responses with this key file"},
	},
	Action: serve,
}

// applyServeFlags lets command line flags override the file configuration.
func applyServeFlags(cctx *cli.Context, cfg *config.Config) error {
	if cctx.IsSet("listen") {
		cfg.Node.Listen = cctx.String("listen")
	}
	if cctx.IsSet("data-dir") {
		cfg.Node.DataDir = cctx.String("data-dir")
	}
	if cctx.IsSet("api") {
		cfg.API.Listen = cctx.String("api")
	}
	if cctx.Bool("no-api") {
		cfg.API.Enabled = false
	}
	if cctx.Bool("p2p") {
		cfg.P2P.Enabled = true
	}
	for _, p := range cctx.StringSlice("peer") {
		cfg.Peers = append(cfg.Peers, config.PeerConfig{Address: p})
	}
	cfg.Authority.Trusted = append(cfg.Authority.Trusted, cctx.StringSlice("trust")...)
	if cctx.IsSet("authority-key") {
		cfg.Authority.KeyFile = cctx.String("authority-key")
	}
	return cfg.Validate()
}

func serve(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	if err := applyServeFlags(cctx, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := node.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer n.Close()

	if err := n.Start(ctx); err != nil {
		return err
	}

	apiErr := make(chan error, 1)
	if cfg.API.Enabled {
		srv := api.NewServer(n, &api.Config{
			Listen:       cfg.API.Listen,
			EnableCORS:   true,
			RateLimit:    cfg.API.RateLimit,
			Debug:        cfg.API.Debug,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		})
		go func() { apiErr <- srv.Start(ctx) }()
	}

	go heartbeat(ctx, n)

	select {
	case <-ctx.Done():
		logger.Infow("shutting down")
	case err := <-apiErr:
		if err != nil {
			logger.Errorw("HTTP API failed", "err", err)
			return err
		}
	}
	return nil
}

func heartbeat(ctx context.Context, n *node.Node) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := n.Stats()
			if err != nil {
				logger.Warnw("stats unavailable", "err", err)
				continue
			}
			logger.Infow("heartbeat",
				"uptime", stats.Uptime,
				"stored", stats.Stored,
				"cached", stats.Cache.Entries,
				"cache_hits", stats.Cache.Hits,
				"peers", len(stats.Peers))
		}
	}
}
