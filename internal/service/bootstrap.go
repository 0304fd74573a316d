package service

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/brokerauth/internal/broker"
	"github.com/spec-kit/brokerauth/internal/config"
	"github.com/spec-kit/brokerauth/internal/events"
	"github.com/spec-kit/brokerauth/internal/repository"
)

// SessionOptionsFromConfig builds the HTTP transport and token store named by
// cfg. Neither opens a connection until first use.
func SessionOptionsFromConfig(cfg config.Config, dispatcher events.Dispatcher, logger *zap.Logger) (SessionOptions, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := repository.NewTokenStore(cfg.Storage.Backend, cfg.Storage.Params, logger)
	if err != nil {
		return SessionOptions{}, fmt.Errorf("token store: %w", err)
	}
	transport := broker.NewHTTPTransport(broker.HTTPTransportOptions{
		BaseURL:    cfg.Broker.BaseURL,
		Timeout:    cfg.Broker.Timeout(),
		MaxRetries: cfg.Broker.MaxRetries,
		RetryDelay: cfg.Broker.RetryDelay(),
	}, logger)

	return SessionOptions{
		AuthenticatorOptions: AuthenticatorOptions{
			Transport: transport,
			Store:     store,
			Paths: broker.ResponsePaths{
				Token:        cfg.Broker.TokenPath,
				TradingToken: cfg.Broker.TradingTokenPath,
			},
			TokenExpiry:         cfg.Auth.TokenExpiry(),
			RefreshThreshold:    cfg.Auth.RefreshThreshold(),
			PersistenceOptional: cfg.Auth.PersistenceOptional,
			Events:              dispatcher,
			Logger:              logger,
		},
	}, nil
}
