package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/tara/internal/awsapi"
	"github.com/yairfalse/tara/internal/config"
	"github.com/yairfalse/tara/internal/digest"
	"github.com/yairfalse/tara/internal/handler"
	"github.com/yairfalse/tara/internal/lifecycle"
	"github.com/yairfalse/tara/internal/notify"
	"github.com/yairfalse/tara/internal/remediate"
	"github.com/yairfalse/tara/internal/responder"
	"github.com/yairfalse/tara/internal/store"
	"github.com/yairfalse/tara/internal/telemetry"
)

// app holds everything a handler invocation needs.
type app struct {
	cfg       *config.Config
	pool      *awsapi.Pool
	store     store.Store
	provider  *telemetry.Provider
	metrics   *telemetry.Metrics
	bootstrap *lifecycle.Bootstrapper
	runner    *handler.Runner
}

// newApp wires telemetry, AWS clients, the state store and every handler.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	telemetry.SetupLogging(cfg.Log.Level, cfg.Log.Console || isTerminal())

	provider, err := telemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	pool := awsapi.NewPool(cfg.AWS.HomeRegion, cfg.AWS.Profile)
	st, err := openStore(ctx, cfg.Store, pool, cfg.AWS.HomeRegion)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		pool:     pool,
		store:    st,
		provider: provider,
		metrics:  metrics,
		runner:   &handler.Runner{Tracer: provider.Tracer(), Metrics: metrics},
	}
	if err := a.register(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// openStore selects the lifecycle state backend.
func openStore(ctx context.Context, cfg config.StoreConfig, clients awsapi.Source, home string) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendBolt:
		st, err := store.OpenBolt(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open state store: %w", err)
		}
		return st, nil
	case config.BackendDynamoDB:
		c, err := clients.For(ctx, home)
		if err != nil {
			return nil, err
		}
		return store.NewDynamo(c.DynamoDB, cfg.Table), nil
	default:
		return store.Nop{}, nil
	}
}

// register binds every handler to the app's collaborators and adds it to
// the registry.
func (a *app) register(ctx context.Context) error {
	home, err := a.pool.For(ctx, a.cfg.AWS.HomeRegion)
	if err != nil {
		return err
	}
	senders := buildSenders(a.cfg, home)

	a.bootstrap = lifecycle.NewBootstrapper(a.cfg.AWS.HomeRegion, a.cfg.AWS.FunctionName, a.pool, a.store, a.pool.AccountID)
	handler.Register(lifecycle.NewCoordinator(lifecycle.Options{
		Volume:     a.cfg.Volume,
		HomeRegion: a.cfg.AWS.HomeRegion,
		Clients:    a.pool,
		Regions:    a.bootstrap,
		Store:      a.store,
		Mailer:     senders.mail,
		Account:    a.pool.AccountID,
		Metrics:    a.metrics,
	}))

	for _, h := range remediate.All(remediate.Deps{
		Config:  a.cfg.Remediation,
		Home:    a.cfg.AWS.HomeRegion,
		Clients: a.pool,
		Roles:   a.pool,
		Topic:   senders.topic,
		Slack:   senders.slack,
		Metrics: a.metrics,
	}) {
		handler.Register(h)
	}

	for _, h := range responder.All(responder.Deps{
		Config:  a.cfg.Responder,
		Home:    a.cfg.AWS.HomeRegion,
		Clients: a.pool,
		Metrics: a.metrics,
	}) {
		handler.Register(h)
	}

	handler.Register(digest.New(digest.Deps{
		AccountID: a.cfg.Remediation.AccountID,
		Clients:   a.pool,
		Slack:     senders.slack,
		Metrics:   a.metrics,
	}))

	review := digest.ReviewDeps{
		Config:  a.cfg.Review,
		Home:    a.cfg.AWS.HomeRegion,
		Clients: a.pool,
		Metrics: a.metrics,
	}
	if a.cfg.Review.LookupRisk {
		review.Risk = digest.NewDocsRisk(a.cfg.Review.RiskDocsURL)
	}
	handler.Register(digest.NewReview(review))

	log.Debug().Strs("handlers", handler.Names()).Msg("handlers registered")
	return nil
}

// senders are the notification sinks built from config. Unconfigured
// sinks stay nil.
type senders struct {
	mail  notify.Sender
	topic notify.Sender
	slack notify.Sender
}

func buildSenders(cfg *config.Config, home *awsapi.Clients) senders {
	var s senders
	if cfg.Volume.FromEmail != "" {
		s.mail = notify.NewSES(home.SES, cfg.Volume.FromEmail)
	}
	if cfg.Remediation.TopicARN != "" {
		s.topic = notify.NewSNS(home.SNS, cfg.Remediation.TopicARN)
	}
	if cfg.Remediation.SlackWebhookURL != "" {
		s.slack = notify.NewSlack(cfg.Remediation.SlackWebhookURL)
	}
	return s
}

// Close flushes telemetry and releases the state store.
func (a *app) Close(ctx context.Context) error {
	var firstErr error
	if err := a.store.Close(); err != nil {
		firstErr = err
	}
	if err := a.provider.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
