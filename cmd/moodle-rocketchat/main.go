// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command moodle-rocketchat keeps Rocket.Chat private groups in sync with
// Moodle course enrolments. It reads events from the Moodle logstore, a
// webhook or NATS, and serves an admin API for the Moodle plugin.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mau.fi/util/exzerolog"
	flag "maunium.net/go/mauflag"

	"github.com/aiku/moodle-rocketchat/pkg/connector"
	"github.com/aiku/moodle-rocketchat/pkg/moodle"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	Name    = "moodle-rocketchat"
	Version = "0.1.0"
)

var configPath = flag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
var writeExampleConfig = flag.MakeFull("e", "generate-example-config", "Save the example config to the config path and quit.", "false").Bool()
var dontSaveConfig = flag.MakeFull("n", "no-update", "Don't save updated config to disk.", "false").Bool()
var version = flag.MakeFull("v", "version", "View version and quit.", "false").Bool()
var wantHelp, _ = flag.MakeHelpFlag()

func main() {
	flag.SetHelpTitles(
		Name+" - Moodle to Rocket.Chat group sync",
		Name+" [-hvne] [-c <path>]",
	)
	if err := flag.Parse(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *version {
		fmt.Printf("%s %s (commit %s, built %s)\n", Name, Tag, Commit, BuildTime)
		os.Exit(0)
	} else if *writeExampleConfig {
		if err = connector.WriteExampleConfig(*configPath); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "Failed to write example config:", err)
			os.Exit(10)
		}
		fmt.Println("Wrote example config to", *configPath)
		os.Exit(0)
	}

	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func run() error {
	cfg, err := connector.LoadConfig(*configPath, !*dontSaveConfig)
	if err != nil {
		return err
	}
	level := cfg.MinLogLevel()
	cfg.Logging.MinLevel = &level
	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	exzerolog.SetupDefaults(log)
	log.Info().
		Str("name", Name).
		Str("version", Version).
		Str("tag", Tag).
		Str("commit", Commit).
		Msg("Initializing")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	store, err := moodle.Open(cfg.Database.Type, cfg.Database.URI, cfg.Database.TablePrefix,
		log.With().Str("component", "moodle_db").Logger())
	if err != nil {
		return fmt.Errorf("failed to open Moodle database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Moodle database")
		}
	}()

	manager, err := connector.NewAPIManager(ctx, cfg, log.With().Str("component", "rocketchat").Logger())
	if err != nil {
		return err
	}
	conn := connector.NewConnector(cfg, manager, store, *log)
	runErr := conn.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = manager.Close(closeCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Err(runErr).Msg("Connector stopped with error")
		return runErr
	}
	log.Info().Msg("Shutdown complete")
	return nil
}
