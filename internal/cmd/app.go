// Package cmd wires the credential lifecycle components together for the
// command-line entry point: building the shared object graph and
// implementing the login, logout, and usage commands.
package cmd

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/codemux/agentauth/internal/auth"
	"github.com/codemux/agentauth/internal/browser"
	"github.com/codemux/agentauth/internal/config"
	"github.com/codemux/agentauth/internal/credstore"
	"github.com/codemux/agentauth/internal/oauth"
	"github.com/codemux/agentauth/internal/registry"
	"github.com/codemux/agentauth/internal/usage"
	"github.com/codemux/agentauth/internal/util"
)

// App is the assembled object graph shared by all commands.
type App struct {
	Config     *config.Config
	Store      *credstore.Store
	Registry   *registry.Registry
	Flow       *auth.Flow
	Refresher  *auth.Refresher
	Aggregator *usage.Aggregator

	usageCache *usage.Cache
}

// NewApp builds the application from configuration.
func NewApp(cfg *config.Config) (*App, error) {
	store, err := credstore.NewStore(cfg.CredentialFile())
	if err != nil {
		return nil, err
	}

	reg := registry.NewRegistry()
	if err = registry.RegisterBuiltins(reg); err != nil {
		return nil, err
	}

	httpClient := util.SetProxy(cfg, &http.Client{Timeout: 30 * time.Second})
	exchanger := oauth.NewExchanger(httpClient)
	refresher := auth.NewRefresher(store, reg, exchanger)

	var cache *usage.Cache
	if cache, err = usage.OpenCache(cfg.UsageCacheFile()); err != nil {
		// Usage still works without the stale-data fallback.
		log.Warnf("usage cache unavailable: %v", err)
		cache = nil
	}

	return &App{
		Config:     cfg,
		Store:      store,
		Registry:   reg,
		Flow:       auth.NewFlow(store, reg, exchanger, httpClient),
		Refresher:  refresher,
		Aggregator: usage.NewAggregator(refresher, reg, httpClient, usage.BuiltinFetchers(), cache),
		usageCache: cache,
	}, nil
}

// Close releases resources held by the app.
func (a *App) Close() {
	if a.usageCache != nil {
		_ = a.usageCache.Close()
	}
}

// capabilities builds the interaction hooks for the login flow from the
// terminal environment.
func (a *App) capabilities(noBrowser, headless bool) *auth.Capabilities {
	reader := bufio.NewReader(os.Stdin)
	return &auth.Capabilities{
		Prompt: func(message string) (string, error) {
			fmt.Print(message)
			line, err := reader.ReadString('\n')
			if err != nil {
				return "", err
			}
			return line, nil
		},
		Notify: func(message string) {
			fmt.Println(message)
		},
		OpenBrowser: browser.OpenURL,
		Headless:    headless,
		NoBrowser:   noBrowser,
	}
}

// isRemoteSession reports whether the process appears to run over SSH,
// where a local browser redirect cannot reach us.
func isRemoteSession() bool {
	return os.Getenv("SSH_CONNECTION") != "" || os.Getenv("SSH_TTY") != ""
}
