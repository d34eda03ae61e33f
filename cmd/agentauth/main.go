package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/codemux/agentauth/internal/cmd"
	"github.com/codemux/agentauth/internal/config"
	"github.com/codemux/agentauth/internal/credstore"
	"github.com/codemux/agentauth/internal/logging"
)

func main() {
	var login string
	var logout string
	var showUsage bool
	var provider string
	var noBrowser bool
	var headless bool
	var configPath string

	flag.StringVar(&login, "login", "", "Log in to a provider (id or alias)")
	flag.StringVar(&logout, "logout", "", "Remove a stored profile by id")
	flag.BoolVar(&showUsage, "usage", false, "Show remaining quota for stored profiles")
	flag.StringVar(&provider, "provider", "", "Restrict --usage to one provider")
	flag.BoolVar(&noBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
	flag.BoolVar(&headless, "headless", false, "Paste the redirect URL manually instead of running a local listener")
	flag.StringVar(&configPath, "config", "", "Configuration file path")
	flag.Parse()

	logging.SetupBaseLogger()

	if configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
		configPath = filepath.Join(wd, "config.yaml")
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if strings.HasPrefix(cfg.AuthDir, "~") {
		home, errHome := os.UserHomeDir()
		if errHome != nil {
			log.Fatalf("failed to get home directory: %v", errHome)
		}
		cfg.AuthDir = filepath.Join(home, strings.TrimPrefix(cfg.AuthDir, "~"))
	}

	logging.SetDebug(cfg.Debug)
	if err = logging.ConfigureLogOutput(cfg.LoggingToFile, filepath.Join(cfg.AuthDir, "logs")); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}

	app, err := cmd.NewApp(cfg)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	defer app.Close()

	switch {
	case login != "":
		cmd.DoLogin(app, login, &cmd.LoginOptions{NoBrowser: noBrowser, Headless: headless})
	case logout != "":
		cmd.DoLogout(app, logout)
	case showUsage:
		// Pick up credentials written by concurrent invocations while the
		// usage view is being produced.
		watcher, errWatch := credstore.NewWatcher(app.Store, nil)
		if errWatch == nil {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if errWatch = watcher.Start(ctx); errWatch == nil {
				defer func() { _ = watcher.Stop() }()
			}
		}
		cmd.DoUsage(app, provider)
	default:
		flag.Usage()
	}
}
