// Package daemon wires configuration, persistence, and the service
// components into a running server with a managed lifecycle.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"cloudcrate/internal/account"
	"cloudcrate/internal/auth"
	"cloudcrate/internal/cache"
	"cloudcrate/internal/config"
	"cloudcrate/internal/db"
	"cloudcrate/internal/httpapi"
	"cloudcrate/internal/logging"
	"cloudcrate/internal/mail"
	"cloudcrate/internal/quota"
	"cloudcrate/internal/storage"
	"cloudcrate/internal/webdavserver"
)

// sweepInterval is how often expired device sessions are purged.
const sweepInterval = time.Hour

// Run starts the daemon and blocks until ctx is cancelled or a component
// fails.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	d, err := db.Open(ctx, cfg.DB.Path)
	if err != nil {
		return err
	}
	defer d.Close()

	fsys := afero.NewOsFs()
	if err := fsys.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return err
	}
	if err := fsys.MkdirAll(cfg.Storage.ScratchDir, 0o755); err != nil {
		return err
	}

	ledger := &quota.Ledger{Store: d}
	mgr := &auth.Manager{
		Store: d,
		Tokens: &auth.Tokens{
			AccessSecret:  []byte(cfg.Auth.AccessSecret),
			RefreshSecret: []byte(cfg.Auth.RefreshSecret),
			AccessTTL:     cfg.Auth.AccessTTL,
			RefreshTTL:    cfg.Auth.RefreshTTL,
		},
		DeviceCap: cfg.Auth.DeviceCap,
		Logger:    logger,
	}
	supervisor := &account.Supervisor{
		DB:           d,
		Auth:         mgr,
		Ledger:       ledger,
		Fs:           fsys,
		DataDir:      cfg.Storage.DataDir,
		DefaultLimit: cfg.Storage.DefaultLimit,
		Argon2: auth.Argon2Params{
			Memory:      cfg.Auth.Argon2Memory,
			Iterations:  cfg.Auth.Argon2Time,
			Parallelism: cfg.Auth.Argon2Threads,
			SaltLen:     16,
			KeyLen:      32,
		},
		Logger: logger,
	}
	engine := &storage.Engine{
		Fs:           fsys,
		Ledger:       ledger,
		Cache:        cache.New(cfg.Cache.TTL, cfg.Cache.Enable),
		Scratch:      cfg.Storage.ScratchDir,
		StreamMIME:   cfg.Storage.StreamMIME,
		EditMaxBytes: cfg.Storage.EditMaxBytes,
		Logger:       logger,
	}
	api := &httpapi.Server{
		Accounts:    supervisor,
		Auth:        mgr,
		Engine:      engine,
		Mail:        mail.New(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.Username, cfg.Mail.Password, cfg.Mail.From, cfg.Mail.To),
		Logger:      logging.For(logger, "httpapi"),
		MaxUploadMB: cfg.HTTP.MaxUploadMB,
	}

	mux := http.NewServeMux()
	mux.Handle("/", api.Handler())
	if cfg.WebDAV.Enable {
		dav := &webdavserver.Handler{
			DB:     d,
			Fs:     fsys,
			Prefix: cfg.WebDAV.Prefix,
			Logger: logging.For(logger, "webdav"),
		}
		mux.Handle(cfg.WebDAV.Prefix+"/", dav)
		logger.Info("webdav enabled", "prefix", cfg.WebDAV.Prefix)
	}

	addr := net.JoinHostPort(cfg.HTTP.Bind, strconv.Itoa(cfg.HTTP.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", addr, "tls", cfg.HTTP.TLS.CertPath != "")
		var err error
		if cfg.HTTP.TLS.CertPath != "" {
			err = srv.ListenAndServeTLS(cfg.HTTP.TLS.CertPath, cfg.HTTP.TLS.KeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	// Periodically drop device sessions past their refresh expiry.
	g.Go(func() error {
		lg := logging.For(logger, "sweeper")
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n, err := d.DeleteExpiredDeviceSessions(ctx, time.Now().Unix())
				if err != nil {
					lg.Warn("session sweep failed", "error", err)
					continue
				}
				if n > 0 {
					lg.Info("swept expired device sessions", "count", n)
				}
			}
		}
	})

	return g.Wait()
}
