package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ckoons/katra-sub000/internal/httpapi"
	"github.com/ckoons/katra-sub000/internal/logging"
	"github.com/ckoons/katra-sub000/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the thin HTTP front door over the memory engine",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	srv := httpapi.New(eng.enc, eng.synth, eng.consol, httpapi.Options{
		APIKey: cfg.RestAPI.APIKey,
		Debug:  cfg.Logging.Level == "DEBUG",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.RestAPI.Host, cfg.RestAPI.Port)
	return srv.Run(ctx, addr, 10*time.Second)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if logLevelFlag != "" {
		cfg.Logging.Level = logLevelFlag
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	return cfg, nil
}
