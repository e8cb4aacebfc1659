// Command initvault prepares a data directory without prompting: it creates
// the directory, the salt and the database schema.
package main

import (
	"context"
	"flag"

	"github.com/Hussein-Mazeh/passvault/internal/config"
	"github.com/Hussein-Mazeh/passvault/internal/logger"
	"github.com/Hussein-Mazeh/passvault/internal/service"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logger.New(0).Fatal("load config", "error", err)
	}
	log := logger.New(cfg.LogLevel)

	flag.StringVar(&cfg.DataDir, "dir", cfg.DataDir, "vault data directory")
	flag.Parse()

	svc, err := service.New(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("open vault", "dir", cfg.DataDir, "error", err)
	}
	defer svc.Close()

	if err := svc.Init(); err != nil {
		log.Fatal("initialise vault", "dir", cfg.DataDir, "error", err)
	}
	log.Info("vault ready", "dir", svc.Dir())
}
