package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"garrison/internal/api"
	"garrison/internal/app"
	"garrison/internal/config"
	"garrison/internal/domain"
	"garrison/internal/logger"

	"github.com/emersion/go-autostart"
)

func main() {
	issueToken := flag.String("issue-token", "", "Print a signed API token for the given user id and exit")
	tokenRole := flag.String("role", domain.RoleAdmin, "Role carried by -issue-token")
	tokenTTL := flag.Duration("ttl", 30*24*time.Hour, "Lifetime of the token printed by -issue-token")
	autostartMode := flag.String("autostart", "", "enable or disable starting the daemon at login, then exit")
	flag.Parse()

	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatalf("Error getting user config directory: %v", err)
	}
	appName := "garrison"
	if config.IsDev() {
		appName = "garrison-dev"
	}
	configDir := filepath.Join(userConfigDir, appName)

	if *autostartMode != "" {
		if err := setAutostart(*autostartMode); err != nil {
			log.Fatalf("Autostart: %v", err)
		}
		return
	}

	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	secret := config.LoadOrGenerateSecret(configDir)

	if *issueToken != "" {
		token, err := api.IssueToken([]byte(secret), *issueToken, *tokenRole, *tokenTTL)
		if err != nil {
			log.Fatalf("Could not sign token: %v", err)
		}
		fmt.Println(token)
		return
	}

	sugar := logger.New(logger.Config{
		ServiceName: "garrison",
		Level:       cfg.LogLevel,
		Dir:         cfg.LogsPath,
		Pretty:      config.IsDev(),
	})
	defer sugar.Sync()

	for _, path := range []string{cfg.ServersPath, cfg.RuntimesPath, cfg.LogsPath} {
		if err := os.MkdirAll(path, 0755); err != nil {
			sugar.Fatalw("Could not create directory", "path", path, "error", err)
		}
	}
	sugar.Infow("Starting daemon",
		"database", cfg.DatabasePath,
		"servers", cfg.ServersPath,
		"runtimes", cfg.RuntimesPath,
		"auth", cfg.AuthEnabled,
	)

	container, err := app.New(cfg, secret, sugar)
	if err != nil {
		sugar.Fatalw("Could not build the service container", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := container.Start(ctx); err != nil {
		sugar.Errorw("Startup tasks failed", "error", err)
	}

	apiServer := api.NewAPIServer(container, sugar)
	listenAddr := fmt.Sprintf(":%d", cfg.Port)
	sugar.Infow("API server listening", "addr", listenAddr)

	if err := apiServer.Start(ctx, listenAddr); err != nil {
		sugar.Errorw("API server stopped", "error", err)
	}

	sugar.Info("Shutting down, stopping servers")
	container.Close()
}

func setAutostart(mode string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	entry := &autostart.App{
		Name:        "garrison",
		DisplayName: "Garrison game server daemon",
		Exec:        []string{exe},
	}
	switch mode {
	case "enable":
		if entry.IsEnabled() {
			fmt.Println("Autostart already enabled")
			return nil
		}
		if err := entry.Enable(); err != nil {
			return err
		}
		fmt.Println("Autostart enabled")
	case "disable":
		if !entry.IsEnabled() {
			fmt.Println("Autostart already disabled")
			return nil
		}
		if err := entry.Disable(); err != nil {
			return err
		}
		fmt.Println("Autostart disabled")
	default:
		return fmt.Errorf("unknown mode %q (want enable or disable)", mode)
	}
	return nil
}
