package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mxcp-io/mxcp-core/internal/audit"
	"github.com/mxcp-io/mxcp-core/internal/config"
	"github.com/mxcp-io/mxcp-core/internal/execution"
	"github.com/mxcp-io/mxcp-core/internal/logger"
	"github.com/mxcp-io/mxcp-core/internal/policy"
	"github.com/mxcp-io/mxcp-core/internal/provideradapter"
	"github.com/mxcp-io/mxcp-core/internal/registry"
	"github.com/mxcp-io/mxcp-core/internal/reload"
	"github.com/mxcp-io/mxcp-core/internal/scopemapper"
	"github.com/mxcp-io/mxcp-core/internal/secrets"
	"github.com/mxcp-io/mxcp-core/internal/session"
	"github.com/mxcp-io/mxcp-core/internal/sqlengine"
	"github.com/mxcp-io/mxcp-core/internal/tokencrypto"
	"github.com/mxcp-io/mxcp-core/internal/tokenstore"
)

// daemon bundles the long-lived components of the gateway that survive
// across reloads: the session manager (with its token store), the audit
// sink, the scope mapper and the upstream provider adapter are all cheaper
// to keep alive than to rebuild per Generation, unlike the Registry/SqlEngine/ExecutionEngine triad reload.New
// replaces wholesale on every build.
type daemon struct {
	cfg      config.Config
	sessions *session.Manager
	auditLog *audit.Sink
	mapper   *scopemapper.Mapper
	provider *provideradapter.Adapter
}

// newDaemon wires every long-lived component from cfg: the token store
// (memory or Redis, per spec.md §4.5), the token sealer, the scope mapper
// and the first configured upstream OIDC provider. It intentionally does
// not touch the Registry/SqlEngine, which belong to a reload.Generation and
// are (re)built by buildFunc below.
func newDaemon(ctx context.Context, cfg config.Config, resolver *secrets.Resolver) (*daemon, error) {
	store, err := newTokenStore(cfg)
	if err != nil {
		return nil, err
	}

	signingKey, err := resolver.Resolve(ctx, cfg.TokenSigningKey)
	if err != nil {
		return nil, fmt.Errorf("resolving token_signing_key: %w", err)
	}
	sealer, err := tokencrypto.NewSealer([]byte(signingKey))
	if err != nil {
		return nil, fmt.Errorf("building token sealer: %w", err)
	}

	mapper := scopemapper.New(scopeMappingRules(cfg.ScopeMappings))
	sessions := session.New(store, sealer, mapper)

	auditSink, err := audit.NewSink(cfg.AuditLogPath, "mxcpd")
	if err != nil {
		return nil, fmt.Errorf("opening audit sink: %w", err)
	}

	var provider *provideradapter.Adapter
	if len(cfg.Providers) > 0 {
		p := cfg.Providers[0]
		clientSecret, err := resolver.Resolve(ctx, p.ClientSecret)
		if err != nil {
			return nil, fmt.Errorf("resolving providers[%s].client_secret: %w", p.Name, err)
		}
		provider, err = provideradapter.New(ctx, provideradapter.Config{
			Name:         p.Name,
			IssuerURL:    p.IssuerURL,
			ClientID:     p.ClientID,
			ClientSecret: clientSecret,
			RedirectURL:  p.RedirectURL,
			Scopes:       p.Scopes,
		})
		if err != nil {
			return nil, fmt.Errorf("building provider adapter %q: %w", p.Name, err)
		}
		if len(cfg.Providers) > 1 {
			logger.Warnw("mxcpd: multiple providers configured, only the first is mounted on the authorization server", "mounted", p.Name)
		}
	}

	return &daemon{cfg: cfg, sessions: sessions, auditLog: auditSink, mapper: mapper, provider: provider}, nil
}

func newTokenStore(cfg config.Config) (tokenstore.Store, error) {
	if cfg.RedisURL == "" {
		return tokenstore.NewMemoryStore(), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis_url: %w", err)
	}
	return tokenstore.NewRedisStore(redis.NewClient(opts)), nil
}

func scopeMappingRules(cfg []config.ScopeMappingConfig) []scopemapper.Rule {
	rules := make([]scopemapper.Rule, 0, len(cfg))
	for _, r := range cfg {
		rules = append(rules, scopemapper.Rule{
			FromProviderScope: r.FromProviderScope,
			FromGroup:         r.FromGroup,
			FromRole:          r.FromRole,
			Grants:            r.Grants,
		})
	}
	return rules
}

// buildFunc returns the reload.BuildFunc that constructs one Generation:
// a fresh Registry read from disk, a fresh SecretResolver, a SqlEngine
// opened against the configured DSN and an ExecutionEngine wired to the
// daemon's long-lived audit sink. internal/reload calls this once at
// startup and again on every reload trigger.
func (d *daemon) buildFunc() reload.BuildFunc {
	return func(ctx context.Context) (*reload.Generation, error) {
		evaluator := policy.New()

		reg, err := registry.Load(d.cfg.RegistryDir, evaluator)
		if err != nil {
			return nil, fmt.Errorf("loading registry from %s: %w", d.cfg.RegistryDir, err)
		}

		sqlEngine, err := sqlengine.Open(sqlengine.Config{DSN: d.cfg.SQLiteDSN})
		if err != nil {
			return nil, fmt.Errorf("opening sql engine: %w", err)
		}

		generationResolver := secrets.New()
		natives := map[string]execution.NativeFunction{}
		engine := execution.New(reg, sqlEngine, natives, evaluator, d.auditLog.ExecutionHook())

		return &reload.Generation{
			Registry: reg,
			Engine:   engine,
			Secrets:  generationResolver,
			SQL:      sqlEngine,
		}, nil
	}
}
