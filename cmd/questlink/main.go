package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gaspardpetit/questlink/internal/client"
	"github.com/gaspardpetit/questlink/internal/config"
	"github.com/gaspardpetit/questlink/internal/logx"
	"github.com/gaspardpetit/questlink/internal/metrics"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	var cfg config.ClientConfig
	cfg.BindFlags()
	flag.Parse()
	if *showVersion {
		fmt.Printf("questlink version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	if cfg.ConfigFile != "" {
		if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Log.Fatal().Err(err).Str("path", cfg.ConfigFile).Msg("load config")
		}
	}
	logx.Configure(cfg.LogLevel)
	metrics.SetBuildInfo(version, buildSHA, buildDate)

	if cfg.UserID == "" {
		logx.Log.Fatal().Msg("user id is required (--user-id or USER_ID)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logx.Log.Info().Str("api", cfg.APIURL).Str("socket", cfg.SocketURL).Str("user", cfg.UserID).Int("character", cfg.CharacterID)
	if cfg.AccessToken != "" {
		log = log.Str("token", config.MaskSecret(cfg.AccessToken))
	}
	log.Msg("questlink starting")

	if err := client.Run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		logx.Log.Fatal().Err(err).Msg("client exited")
	}
}
