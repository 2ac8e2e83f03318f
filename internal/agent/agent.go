package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mwantia/fabric/pkg/container"
	"github.com/mwantia/goblob/internal/api"
	config "github.com/mwantia/goblob/internal/config/server"
	"github.com/mwantia/goblob/internal/vault"
	"github.com/mwantia/goblob/pkg/log"
)

type GoBlobAgent struct {
	mutex sync.RWMutex
	wait  sync.WaitGroup

	cfg    *config.BaseServerConfig
	sc     *container.ServiceContainer
	log    log.LoggerService
	vault  *vault.Vault
	server *http.Server
}

func NewAgent(cfg *config.BaseServerConfig) *GoBlobAgent {
	return &GoBlobAgent{
		cfg: cfg,
		sc:  container.NewServiceContainer(),
		log: log.NewLoggerService("goblob", cfg.Log),
	}
}

func (gba *GoBlobAgent) setupServices(ctx context.Context) error {
	errs := container.Errors{}

	gba.log.Debug("Registering 'LoggerService'...")
	errs.Add(container.Register[log.LoggerServiceImpl](gba.sc,
		container.With[log.LoggerService](),
		container.WithInstance(gba.log)))

	v, err := vault.Open(ctx, gba.cfg, gba.log.Named("vault"))
	if err != nil {
		return fmt.Errorf("failed to open vault: %w", err)
	}
	gba.vault = v

	gba.log.Debug("Registering 'Vault'...")
	errs.Add(container.Register[vault.Vault](gba.sc,
		container.WithInstance(gba.vault)))

	return errs.Errors()
}

func (gba *GoBlobAgent) setupServer() error {
	listener, err := net.Listen("tcp", gba.cfg.HTTP.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on '%s': %w", gba.cfg.HTTP.Address, err)
	}

	gba.server = &http.Server{
		Handler:      api.NewHandler(gba.vault, gba.log.Named("api")),
		ReadTimeout:  gba.cfg.HTTP.ReadTimeoutDuration(),
		WriteTimeout: gba.cfg.HTTP.WriteTimeoutDuration(),
	}

	gba.wait.Add(1)
	go func() {
		defer gba.wait.Done()

		gba.log.Info("Serving API on %s", listener.Addr())
		if err := gba.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			gba.log.Error("API server stopped: %v", err)
		}
	}()
	return nil
}

func (gba *GoBlobAgent) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gba.mutex.Lock()

	if err := gba.setupServices(ctx); err != nil {
		gba.mutex.Unlock()
		return err
	}
	if err := gba.setupServer(); err != nil {
		gba.mutex.Unlock()
		gba.vault.Close()
		return err
	}

	gba.mutex.Unlock()
	<-ctx.Done()

	gba.log.Info("Shutting down...")

	timeout, err := time.ParseDuration(gba.cfg.ShutdownTimeout)
	if err != nil {
		// Set default of 60 seconds if error
		timeout = 60 * time.Second
	}

	shutdown, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	gba.mutex.Lock()
	defer gba.mutex.Unlock()

	if err := gba.server.Shutdown(shutdown); err != nil {
		gba.log.Warn("Failed to shut down API server gracefully: %v", err)
	}
	if err := gba.vault.Close(); err != nil {
		gba.log.Warn("Failed to close vault: %v", err)
	}

	if err := gba.sc.Cleanup(shutdown); err != nil {
		return fmt.Errorf("failed to complete service container cleanup: %w", err)
	}

	gba.wait.Wait()
	return nil
}
