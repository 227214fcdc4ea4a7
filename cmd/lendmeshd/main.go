package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"lendmesh/config"
	"lendmesh/core/events"
	"lendmesh/crypto"
	"lendmesh/gateway"
	"lendmesh/gateway/middleware"
	nativecommon "lendmesh/native/common"
	"lendmesh/native/registry"
	"lendmesh/native/vault"
	"lendmesh/observability/logging"
	"lendmesh/storage"
)

const managerAddrEnv = "LENDMESH_MANAGER_ADDR"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LENDMESH_ENV"))
	logger := logging.Setup("lendmeshd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("failed to create data dir", "err", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("failed to open state database", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	accounts := storage.NewAccountStore(db)

	registryDB, err := gorm.Open(sqlite.Open(cfg.RegistryDSN), &gorm.Config{})
	if err != nil {
		logger.Error("failed to open registry database", "err", err)
		os.Exit(1)
	}

	roles := nativecommon.NewRoleSet()
	if raw := strings.TrimSpace(os.Getenv(managerAddrEnv)); raw != "" {
		manager, err := crypto.DecodeAddress(raw)
		if err != nil {
			logger.Error("invalid manager address", "err", err)
			os.Exit(1)
		}
		roles.Grant(nativecommon.RoleManager, manager)
		roles.Grant(nativecommon.RolePauser, manager)
	}

	feeRecipient, err := resolveFeeRecipient(cfg, logger)
	if err != nil {
		logger.Error("failed to resolve fee recipient", "err", err)
		os.Exit(1)
	}

	pauses := nativecommon.NewPauseSet()

	recorder := events.NewRecorder(0)
	reg, err := registry.NewRegistry(registryDB, registry.Config{
		State:        accounts,
		Roles:        roles,
		Pauses:       pauses,
		Emitter:      recorder,
		FeeRecipient: feeRecipient,
		Protocol:     vault.DefaultProtocolConfig(),
		PoRHeartbeat: time.Duration(cfg.PoRHeartbeatSec) * time.Second,
	})
	if err != nil {
		logger.Error("failed to initialise market registry", "err", err)
		os.Exit(1)
	}
	logger.Info("market registry ready", "markets", len(reg.Markets()))

	server := gateway.New(gateway.Config{
		Registry: reg,
		Logger:   logger,
		Events:   recorder,
		Auth: middleware.AuthConfig{
			Enabled:    cfg.AuthEnabled,
			HMACSecret: cfg.AuthSecret(),
		},
		Pauses:          pauses,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddress, "network", cfg.NetworkName)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway stopped", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	logger.Info("gateway stopped")
}

// resolveFeeRecipient decodes the configured address or generates a fresh key
// for throwaway environments, logging the derived address.
func resolveFeeRecipient(cfg *config.Config, logger *slog.Logger) (crypto.Address, error) {
	if raw := strings.TrimSpace(cfg.FeeRecipient); raw != "" {
		return crypto.DecodeAddress(raw)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return crypto.Address{}, err
	}
	addr := key.PubKey().Address()
	logger.Info("generated ephemeral fee recipient", "address", addr.String())
	return addr, nil
}
