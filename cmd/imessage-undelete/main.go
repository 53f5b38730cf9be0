// mautrix-imessage - A Matrix-iMessage puppeting bridge.
// Copyright (C) 2024 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/lrhodin/imessage-undelete/pkg/archive"
	"github.com/lrhodin/imessage-undelete/pkg/attachment"
	"github.com/lrhodin/imessage-undelete/pkg/chatdb"
	"github.com/lrhodin/imessage-undelete/pkg/config"
	"github.com/lrhodin/imessage-undelete/pkg/differ"
	"github.com/lrhodin/imessage-undelete/pkg/model"
	"github.com/lrhodin/imessage-undelete/pkg/platform"
)

var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "imessage-undelete",
		Usage:   "poll a Messages database and archive messages the user unsends",
		Version: fmt.Sprintf("%s (%s, built %s)", Tag, Commit, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "path to config.yaml",
				Value:    "config.yaml",
				EnvVars:  []string{"IMESSAGE_UNDELETE_CONFIG"},
				Required: false,
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug-level logging",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	if c.Bool("debug") {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	plat, err := resolvePlatform(cfg, log)
	if err != nil {
		return fmt.Errorf("determine platform: %w", err)
	}

	db, err := chatdb.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open chat database: %w", err)
	}
	defer db.Close()

	home, err := os.UserHomeDir()
	if err != nil {
		home = ""
	}
	resolver := attachment.NewResolver(plat, home, "", cfg.AttachmentRoot, nil)

	writer, err := archive.Open(cfg.ExportRoot, log)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer writer.Close()

	d, err := differ.New(db, resolver, writer, differ.Config{
		PollInterval:      time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		Limit:             cfg.Limit,
		HasLimit:          cfg.Limit > 0,
		SelectedChatIDs:   cfg.SelectedChatIDs,
		SelectedHandleIDs: cfg.SelectedHandleIDs,
		WatchDir:          filepath.Dir(cfg.DBPath),
	}, log)
	if err != nil {
		return fmt.Errorf("initialize differ: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().Str("db_path", cfg.DBPath).Str("export_root", cfg.ExportRoot).Msg("starting poll loop")
	if err := d.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("poll loop: %w", err)
	}
	log.Info().Msg("shutting down")
	return nil
}

// resolvePlatform honors an explicit config.Platform override, falling back
// to auto-detection (SUPPLEMENTED FEATURE, platform.Determine) when unset.
func resolvePlatform(cfg *config.Config, log zerolog.Logger) (model.Platform, error) {
	switch cfg.Platform {
	case "macos":
		return model.PlatformMacOS, nil
	case "ios":
		return model.PlatformIOS, nil
	default:
		p, err := platform.Determine(cfg.DBPath)
		if err != nil {
			return 0, err
		}
		log.Debug().Str("platform", fmt.Sprintf("%d", p)).Msg("auto-detected platform")
		return p, nil
	}
}
