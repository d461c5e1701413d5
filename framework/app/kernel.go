package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/km-arc/go-injector/framework/config"
	"github.com/km-arc/go-injector/framework/container"
	"github.com/km-arc/go-injector/framework/inspect"
	"github.com/km-arc/go-injector/framework/metrics"
	"github.com/km-arc/go-injector/framework/profile"
	"github.com/km-arc/go-injector/framework/providers"
)

// Version is reported by Application.Version.
const Version = "0.1.0"

// Application is the top-level application container.
// It embeds the Container so user code can call app.RegisterComponent(),
// app.Get() and friends directly.
type Application struct {
	*container.Container
	Config *config.Config
	Log    *zap.Logger
}

type settings struct {
	envFiles []string
	cfg      *config.Config
	log      *zap.Logger
	envs     map[string]container.EnvironmentFunc
}

// Option configures New.
type Option func(*settings)

// WithEnvFiles overrides the env files config.Load reads.
func WithEnvFiles(files ...string) Option {
	return func(s *settings) { s.envFiles = files }
}

// WithConfig skips config.Load and uses cfg as is.
func WithConfig(cfg *config.Config) Option {
	return func(s *settings) { s.cfg = cfg }
}

// WithLogger replaces the logger built from APP_ENV and LOG_LEVEL.
func WithLogger(log *zap.Logger) Option {
	return func(s *settings) { s.log = log }
}

// WithEnvironment makes fn selectable through ENV_PROVIDER=name. Only the
// selected bootstrap is handed to the container.
func WithEnvironment(name string, fn container.EnvironmentFunc) Option {
	return func(s *settings) { s.envs[name] = fn }
}

// New loads configuration, builds the logger, metrics and container, and
// registers the framework units.
func New(opts ...Option) (*Application, error) {
	s := settings{envs: make(map[string]container.EnvironmentFunc)}
	for _, opt := range opts {
		opt(&s)
	}

	cfg := s.cfg
	if cfg == nil {
		loaded, err := config.Load(s.envFiles...)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	log := s.log
	if log == nil {
		built, err := NewLogger(cfg)
		if err != nil {
			return nil, err
		}
		log = built
	}

	m := metrics.NewCollector("injector")
	copts := []container.Option{
		container.WithLogger(log),
		container.WithMetrics(m),
		container.WithProfiles(cfg.Injector.Profiles...),
	}
	if cfg.Injector.PruneUncached {
		copts = append(copts, container.WithPruneUncached())
	}
	if name := cfg.Injector.EnvProvider; name != "" {
		fn, ok := s.envs[name]
		if !ok {
			return nil, fmt.Errorf("app: unknown environment provider %q", name)
		}
		copts = append(copts, container.WithEnvironment(name, fn))
	}

	a := &Application{
		Container: container.New(copts...),
		Config:    cfg,
		Log:       log,
	}

	// Register framework core units
	for _, u := range []container.ConfigUnit{
		&providers.ConfigUnit{Config: cfg},
		&providers.LoggerUnit{Logger: log},
		&providers.MetricsUnit{},
		&providers.InspectUnit{},
	} {
		if err := a.Units().Register(u); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// NewLogger builds a production logger when APP_ENV is production, a no-op
// logger under testing, and a development logger otherwise. LOG_LEVEL sets
// the level.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	switch cfg.App.Env {
	case "production":
		zcfg = zap.NewProductionConfig()
	case "testing":
		return zap.NewNop(), nil
	default:
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Log.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("app: log level: %w", err)
		}
		zcfg.Level = lvl
	}
	log, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log.Named(cfg.App.Name), nil
}

// Register adds a configuration unit to the application.
func (a *Application) Register(u container.ConfigUnit, ps ...profile.Profile) error {
	return a.Units().Register(u, ps...)
}

// Boot runs the environment bootstrap, boots every unit and seals the
// container. Deferred units may still load afterwards.
func (a *Application) Boot() error {
	if a.Units().Booted() {
		return nil
	}
	if err := a.InitEnvironment(); err != nil {
		return err
	}
	if err := a.Units().Boot(); err != nil {
		return err
	}
	a.Seal()
	a.Log.Info("application booted",
		zap.String("name", a.Config.App.Name),
		zap.String("env", a.Config.App.Env),
		zap.Stringers("profiles", a.Profiles()))
	return nil
}

// Inspector resolves the inspection server, loading its deferred unit.
func (a *Application) Inspector() (*inspect.Server, error) {
	return container.Resolve[*inspect.Server](a.Container)
}

// Run boots the application (if needed) and serves the inspection endpoint
// on INSPECT_ADDR until ctx is done. Without an address it just waits.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Boot(); err != nil {
		return err
	}
	addr := a.Config.Inspect.Addr
	if addr == "" {
		<-ctx.Done()
		return nil
	}
	s, err := a.Inspector()
	if err != nil {
		return err
	}
	return s.ListenAndServe(ctx, addr)
}

// Environment returns APP_ENV value.
func (a *Application) Environment() string { return a.Config.App.Env }
func (a *Application) IsLocal() bool       { return a.Environment() == "local" }
func (a *Application) IsProduction() bool  { return a.Environment() == "production" }
func (a *Application) IsTesting() bool     { return a.Environment() == "testing" }
func (a *Application) IsDebug() bool       { return a.Config.App.Debug }
func (a *Application) Version() string     { return Version }
