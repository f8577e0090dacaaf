// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/crypto/bcrypt"

	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/identity"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/storage"
	"github.com/sentinovo/carbuildervin-auth/pkg/authserver/tokens"
	"github.com/sentinovo/carbuildervin-auth/pkg/logger"
)

// Service implements every authorization server operation on top of a
// Storage backend. It holds no per-request state and is safe for concurrent use.
type Service struct {
	cfg        Config
	storage    storage.Storage
	users      identity.UserLookup
	signer     *tokens.Signer
	now        func() time.Time
	bcryptCost int
	metrics    *serviceMetrics
	tracer     trace.Tracer
}

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	now            func() time.Time
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	bcryptCost     int
	logger         *slog.Logger
}

// WithClock overrides the time source used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// WithMeterProvider sets the provider for service counters. Defaults to noop.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *serviceOptions) { o.meterProvider = mp }
}

// WithTracerProvider sets the provider for service spans. Defaults to noop.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *serviceOptions) { o.tracerProvider = tp }
}

// WithBcryptCost sets the cost used to hash client secrets.
func WithBcryptCost(cost int) Option {
	return func(o *serviceOptions) { o.bcryptCost = cost }
}

// WithLogger sets the logger used to report rejected access tokens.
func WithLogger(l *slog.Logger) Option {
	return func(o *serviceOptions) { o.logger = l }
}

// New validates cfg and returns a Service. A missing or weak signing secret
// is a startup error.
func New(cfg Config, stor storage.Storage, users identity.UserLookup, opts ...Option) (*Service, error) {
	logger.Debug("initializing OAuth authorization service")

	if stor == nil {
		return nil, errors.New("storage is required")
	}
	if users == nil {
		return nil, errors.New("user lookup is required")
	}

	options := &serviceOptions{
		now:            time.Now,
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
		bcryptCost:     bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(options)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	signerOpts := []tokens.SignerOption{tokens.WithClock(options.now)}
	if options.logger != nil {
		signerOpts = append(signerOpts, tokens.WithLogger(options.logger))
	}
	signer, err := tokens.NewSigner([]byte(cfg.SigningSecret), cfg.Issuer, cfg.AccessTokenTTL, signerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create token signer: %w", err)
	}

	m, err := newServiceMetrics(options.meterProvider)
	if err != nil {
		return nil, err
	}

	logger.Infow("OAuth authorization service initialized",
		"issuer", cfg.Issuer,
		"accessTokenTTL", cfg.AccessTokenTTL,
		"refreshTokenTTL", cfg.RefreshTokenTTL,
		"authCodeTTL", cfg.AuthCodeTTL,
	)

	return &Service{
		cfg:        cfg,
		storage:    stor,
		users:      users,
		signer:     signer,
		now:        options.now,
		bcryptCost: options.bcryptCost,
		metrics:    m,
		tracer:     options.tracerProvider.Tracer(instrumentationName),
	}, nil
}

// Config returns the effective configuration with defaults applied.
func (s *Service) Config() Config { return s.cfg }

// ScopeDescription returns the consent page text for scope, or the scope
// itself when none is configured.
func (s *Service) ScopeDescription(scope string) string {
	if d, ok := s.cfg.ScopeDescriptions[scope]; ok && d != "" {
		return d
	}
	return scope
}
