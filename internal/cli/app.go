// Package cli implements the fintrack command line client.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/fintrack/fintrack/internal/apiclient"
	"github.com/fintrack/fintrack/internal/config"
	"github.com/fintrack/fintrack/internal/finance"
	"github.com/fintrack/fintrack/internal/logging"
	"github.com/fintrack/fintrack/internal/repository"
	"github.com/fintrack/fintrack/internal/session"
	"github.com/fintrack/fintrack/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// App is everything a command needs, wired from configuration.
type App struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Store    store.Store
	API      *apiclient.Client
	Session  *session.Holder
	Finance  *finance.Service
	Registry *prometheus.Registry

	Stdout io.Writer
	Stderr io.Writer

	closers []func() error
}

// Opener builds the App for one command run.
type Opener func(ctx context.Context) (*App, error)

// Open loads configuration from path and connects the configured session
// store.
func Open(ctx context.Context, path string, stdout, stderr io.Writer) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Log.Level, "text")

	st, closer, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app, err := NewApp(cfg, st, logger, stdout, stderr)
	if err != nil {
		if closer != nil {
			closer()
		}
		return nil, err
	}
	if closer != nil {
		app.closers = append(app.closers, closer)
	}
	return app, nil
}

// NewApp wires the API client, session holder and finance service on top of
// an already opened store.
func NewApp(cfg *config.Config, st store.Store, logger *logrus.Logger, stdout, stderr io.Writer) (*App, error) {
	registry := prometheus.NewRegistry()
	client, err := apiclient.New(apiclient.Options{
		BaseURL:    cfg.API.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.API.Timeout},
		Store:      st,
		Navigate: func(path string) {
			fmt.Fprintf(stderr, "Your session has ended. Sign in again with 'fintrack login' (%s).\n", path)
		},
		LoginPath: cfg.API.LoginPath,
		Logger:    logger,
		Metrics:   apiclient.NewMetrics(registry),
	})
	if err != nil {
		return nil, err
	}

	holder := session.New(client, st, session.Options{
		RefreshInterval: cfg.Session.RefreshInterval,
		Logger:          logger,
	})

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    st,
		API:      client,
		Session:  holder,
		Finance:  finance.NewService(client, logger),
		Registry: registry,
		Stdout:   stdout,
		Stderr:   stderr,
	}, nil
}

func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// Currency is the display currency for amounts.
func (a *App) Currency() string {
	return a.Config.Display.Currency
}

func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.Store, func() error, error) {
	profile := cfg.Session.Profile
	switch cfg.Session.Store {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil, nil

	case config.StoreRedis:
		client, err := repository.NewRedisClient(ctx, cfg.Redis, logger)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedisStore(client, profile, logger), client.Close, nil

	case config.StoreDynamoDB:
		client, err := repository.NewDynamoClient(ctx, cfg.DynamoDB, logger)
		if err != nil {
			return nil, nil, err
		}
		return store.NewDynamoStore(client, cfg.DynamoDB.TableName, profile, logger), nil, nil

	default:
		return store.NewFileStore(sessionFilePath(cfg.Session.File), profile), nil, nil
	}
}

// sessionFilePath resolves a relative session file against the user's home
// directory.
func sessionFilePath(file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return file
	}
	return filepath.Join(home, file)
}
