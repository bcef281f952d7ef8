// openchat TUI - a terminal chat client with OIDC sign-in and streaming replies.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/jeranaias/openchat-tui/internal/chat"
	"github.com/jeranaias/openchat-tui/internal/cli"
	"github.com/jeranaias/openchat-tui/internal/config"
	"github.com/jeranaias/openchat-tui/internal/history"
	"github.com/jeranaias/openchat-tui/internal/oidc"
	"github.com/jeranaias/openchat-tui/internal/ui"
	"github.com/jeranaias/openchat-tui/internal/util"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "config file path (default ~/.openchat/config.toml)")
		plain       = flag.Bool("plain", false, "force the line-based REPL instead of the TUI")
		model       = flag.String("model", "", "override the chat model")
		healthCheck = flag.Bool("health", false, "check the backend and exit")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("openchat %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*configPath, *plain, *model, *healthCheck); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath string, plain bool, modelOverride string, healthCheck bool) error {
	if configPath == "" {
		var err error
		configPath, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if modelOverride != "" {
		cfg.Backend.Model = modelOverride
	}

	// Auth wiring: provider endpoints from config (discovery fills gaps),
	// durable tokens next to the config file, ephemeral login state in
	// process memory.
	dir, err := config.Dir()
	if err != nil {
		return err
	}
	provider := oidc.NewProvider(cfg.OIDC.IssuerURL, oidc.Endpoints{
		AuthorizeURL: cfg.OIDC.AuthorizeURL,
		TokenURL:     cfg.OIDC.TokenURL,
		UserinfoURL:  cfg.OIDC.UserinfoURL,
		LogoutURL:    cfg.OIDC.LogoutURL,
	})
	auth, err := oidc.NewAuthenticator(oidc.Config{
		ClientID:          cfg.OIDC.ClientID,
		RedirectURI:       cfg.RedirectURI(),
		Scopes:            cfg.OIDC.Scopes,
		Journey:           cfg.OIDC.Journey,
		LogoutRedirectURI: cfg.LogoutRedirectURI(),
		BrowserOpener:     util.OpenBrowser,
		LogoutDelay:       500 * time.Millisecond,
	}, provider, oidc.NewFileTokenStore(filepath.Join(dir, "session.json")), oidc.NewEphemeralStore())
	if err != nil {
		return err
	}

	client := chat.NewClient(cfg.Backend.BaseURL, auth.AccessToken)

	if healthCheck {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Health(ctx); err != nil {
			return err
		}
		fmt.Println("backend ok")
		return nil
	}

	var histStore *history.Store
	if cfg.History.Enabled {
		histStore, err = history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer histStore.Close()
	}

	transcript := chat.NewTranscript()

	// The sender's update hook is bound after the frontend exists.
	var notify func()
	sender := chat.NewSender(transcript, client, chat.SendOptions{
		DeveloperMessage: cfg.Backend.DeveloperMessage,
		Model:            cfg.Backend.Model,
		APIKey:           cfg.Backend.APIKey,
	}, func() {
		if notify != nil {
			notify()
		}
	})

	// The frontend is built before the watcher starts so reload callbacks
	// never observe a half-wired program.
	var applyConfig func(*config.Config)
	var start func() error

	if plain || !term.IsTerminal(int(os.Stdout.Fd())) {
		repl, replNotify := cli.New(cli.Deps{
			Config:     cfg,
			Transcript: transcript,
			Sender:     sender,
			Auth:       auth,
			Client:     client,
			History:    histStore,
		})
		notify = replNotify
		applyConfig = repl.ApplyConfig
		start = func() error { return repl.Run(context.Background()) }
	} else {
		// The TUI owns the screen; send logs to a file instead.
		if f, err := tea.LogToFile(filepath.Join(dir, "openchat.log"), "openchat"); err == nil {
			defer f.Close()
		}

		app, appNotify := ui.NewApp(ui.Deps{
			Config:     cfg,
			Transcript: transcript,
			Sender:     sender,
			Auth:       auth,
			History:    histStore,
		})
		notify = appNotify
		applyConfig = app.ApplyConfig

		program := tea.NewProgram(app, tea.WithAltScreen())
		start = func() error {
			_, err := program.Run()
			return err
		}
	}

	// Hot-reload only touches settings that are safe to swap mid-session:
	// request options on the sender, display settings on the frontend.
	watcher, err := config.Watch(configPath, func(fresh *config.Config) {
		sender.SetOptions(chat.SendOptions{
			DeveloperMessage: fresh.Backend.DeveloperMessage,
			Model:            fresh.Backend.Model,
			APIKey:           fresh.Backend.APIKey,
		})
		applyConfig(fresh)
	})
	if err != nil {
		log.Printf("CONFIG_WATCH | disabled err=%v", err)
	} else {
		defer watcher.Close()
	}

	return start()
}
