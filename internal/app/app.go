// Package app wires the ChitBox components into one process: the HTTP API, the
// SMTP and IMAP listeners and the outbound queue.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	imapserver "github.com/emersion/go-imap/server"
	"github.com/emersion/go-smtp"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chitbox/chitbox/internal/api"
	"github.com/chitbox/chitbox/internal/auth"
	"github.com/chitbox/chitbox/internal/blob"
	"github.com/chitbox/chitbox/internal/cache"
	"github.com/chitbox/chitbox/internal/config"
	"github.com/chitbox/chitbox/internal/crypto"
	"github.com/chitbox/chitbox/internal/db"
	"github.com/chitbox/chitbox/internal/delivery"
	"github.com/chitbox/chitbox/internal/imapd"
	"github.com/chitbox/chitbox/internal/log"
	"github.com/chitbox/chitbox/internal/mime"
	"github.com/chitbox/chitbox/internal/outbound"
	"github.com/chitbox/chitbox/internal/relay"
	"github.com/chitbox/chitbox/internal/smtpd"
	ws "github.com/chitbox/chitbox/internal/websocket"
)

const (
	shutdownTimeout   = 10 * time.Second
	userCacheSize     = 1024
	renderedCacheSize = 256
)

// App holds the three listeners and the outbound queue of one ChitBox process.
type App struct {
	cfg   *config.Config
	store *db.Store
	hub   *ws.Hub
	relay relay.Relay
	queue *outbound.Queue

	http *http.Server
	smtp *smtp.Server
	imap *imapserver.Server

	httpListener net.Listener
	smtpListener net.Listener
	imapListener net.Listener
}

// New wires every component on top of pool. Nothing listens until Listen is called.
func New(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (*App, error) {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}

	blobs, err := blob.NewStore(cfg.BlobDir)
	if err != nil {
		return nil, err
	}

	store := db.NewStore(pool)
	composer := mime.NewComposer(cfg.Domain, cfg.AbuseContact, cfg.UnsubscribeURL)
	router := delivery.NewRouter(store, blobs)
	hub := ws.NewHub(10)
	passwords := auth.NewAppPasswords(store, encryptor)

	r, err := relay.New(ctx, cfg, composer)
	if err != nil {
		return nil, err
	}

	queue := outbound.NewQueue(store, r, composer, router, hub, outbound.Options{
		MaxAttempts: cfg.OutboundMaxAttempts,
		BatchSize:   cfg.OutboundBatchSize,
		Interval:    cfg.OutboundProcessInterval,
		Cooldown:    cfg.OutboundRetryCooldown,
	})

	smtpServer := smtpd.NewServer(smtpd.NewBackend(router, hub, passwords), smtpd.Options{
		Addr:            ":" + cfg.SMTPPort,
		Domain:          cfg.Domain,
		MaxMessageBytes: cfg.SMTPMaxMessageSize,
		MaxRecipients:   cfg.SMTPMaxRecipients,
		ReadTimeout:     cfg.SMTPReadTimeout,
		WriteTimeout:    cfg.SMTPWriteTimeout,
	})

	imapBackend := imapd.NewBackend(store, passwords, blobs, composer,
		cache.NewLRU[string, []byte](renderedCacheSize, cfg.UserCacheTTL))
	imapServer := imapd.NewServer(imapBackend, ":"+cfg.IMAPPort)

	users := api.NewUserResolver(store, cache.NewLRU[string, string](userCacheSize, cfg.UserCacheTTL))
	handler := NewHandler(
		api.NewOutboxHandler(queue, users),
		api.NewCredentialsHandler(store, encryptor, users),
		api.NewWebSocketHandler(users, hub),
	)

	return &App{
		cfg:   cfg,
		store: store,
		hub:   hub,
		relay: r,
		queue: queue,
		http: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		smtp: smtpServer,
		imap: imapServer,
	}, nil
}

// Listen binds the HTTP, SMTP and IMAP ports. A port of "0" picks a free one.
func (a *App) Listen() error {
	var err error
	if a.httpListener, err = net.Listen("tcp", a.http.Addr); err != nil {
		return fmt.Errorf("failed to listen for HTTP on %s: %w", a.http.Addr, err)
	}
	if a.smtpListener, err = net.Listen("tcp", a.smtp.Addr); err != nil {
		_ = a.httpListener.Close()
		return fmt.Errorf("failed to listen for SMTP on %s: %w", a.smtp.Addr, err)
	}
	if a.imapListener, err = net.Listen("tcp", a.imap.Addr); err != nil {
		_ = a.httpListener.Close()
		_ = a.smtpListener.Close()
		return fmt.Errorf("failed to listen for IMAP on %s: %w", a.imap.Addr, err)
	}
	return nil
}

// Relay returns the relay the outbound queue sends through.
func (a *App) Relay() relay.Relay { return a.relay }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.http.Handler }

func (a *App) HTTPAddr() string { return a.httpListener.Addr().String() }
func (a *App) SMTPAddr() string { return a.smtpListener.Addr().String() }
func (a *App) IMAPAddr() string { return a.imapListener.Addr().String() }

// Serve runs the listeners and the outbound queue until ctx is cancelled or a
// listener fails, then shuts everything down. Listen must have been called.
func (a *App) Serve(ctx context.Context) error {
	var stopping sync.WaitGroup
	failed := make(chan error, 3)

	serve := func(name string, fn func() error) {
		go func() {
			if err := fn(); err != nil && ctx.Err() == nil {
				failed <- fmt.Errorf("%s listener failed: %w", name, err)
			}
		}()
	}
	serve("http", func() error {
		if err := a.http.Serve(a.httpListener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	serve("smtp", func() error { return a.smtp.Serve(a.smtpListener) })
	serve("imap", func() error { return a.imap.Serve(a.imapListener) })

	queueCtx, stopQueue := context.WithCancel(log.WithOrigin(context.Background(), "outbound"))
	stopping.Add(1)
	go func() {
		defer stopping.Done()
		a.queue.Run(queueCtx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-failed:
		log.Error().Err(runErr).Msg("shutting down after listener failure")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	// Sessions in the middle of a transaction may finish; idle ones end at
	// their read timeout.
	if err := a.smtp.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("SMTP shutdown incomplete")
	}
	if err := a.imap.Close(); err != nil {
		log.Debug().Err(err).Msg("IMAP close")
	}

	stopQueue()
	stopping.Wait()

	return runErr
}
