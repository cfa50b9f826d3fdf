package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ZentaChain/marp-node/pkg/config"
	logging "github.com/ZentaChain/marp-node/pkg/log"
)

const (
	flagConfig   = "config"
	flagLogLevel = "log-level"
)

var logger = logging.Logger("marpd")

func main() {
	app := &cli.App{
		Name:    "marpd",
		Usage:   "MARP resolver node",
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				EnvVars: []string{"MARP_CONFIG"},
				Usage:   "path to the TOML configuration file",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "override the configured log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			serveCmd,
			publishCmd,
			unpublishCmd,
			keygenCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration named by --config, or the defaults when
// none is given, and sets up logging from it.
func loadConfig(cctx *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := cctx.String(flagConfig); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if lvl := cctx.String(flagLogLevel); lvl != "" {
		cfg.Log.Level = lvl
	}
	if err := logging.Setup(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}
