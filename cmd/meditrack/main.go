package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/davmgs/meditrack/internal/app"
	"github.com/davmgs/meditrack/internal/config"
	"github.com/davmgs/meditrack/internal/store"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	initConfig = flag.Bool("init-config", false, "Write a default config file and exit")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	version    = "dev"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			fmt.Printf("MediTrack version %s\n", version)
			return
		}
	}

	flag.Parse()

	if *initConfig {
		path := *configPath
		if path == "" {
			path = "meditrack.yaml"
		}
		if err := config.WriteDefault(path); err != nil {
			fmt.Printf("Failed to write config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote default config to %s\n", path)
		return
	}

	logger := initLogger()
	defer logger.Sync()

	logger.Info("Starting MediTrack", zap.String("version", version))

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	st, err := store.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}

	application := app.New(cfg, *configPath, st, logger, version)
	application.RunServer()
}

func initLogger() *zap.Logger {
	var logger *zap.Logger
	var err error
	if *debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return logger
}
