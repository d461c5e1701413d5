package providers

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"github.com/km-arc/go-injector/framework/config"
	"github.com/km-arc/go-injector/framework/container"
	"github.com/km-arc/go-injector/framework/inspect"
	"github.com/km-arc/go-injector/framework/metrics"
)

// ── ConfigUnit ────────────────────────────────────────────────────────────────

// ConfigUnit binds the application configuration.
//
// Bound types:
//   - *config.Config          (Config, or loaded from the env files)
//   - *config.PropertySource  (reads Config.Injector.ResourcesDir)
type ConfigUnit struct {
	container.BaseUnit
	Config   *config.Config
	EnvFiles []string
}

func (u *ConfigUnit) UnitName() string { return "config" }

func (u *ConfigUnit) Register(b *container.Binder) error {
	cfg := u.Config
	if cfg == nil {
		loaded, err := config.Load(u.EnvFiles...)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := b.Value(container.TypeOf[*config.Config](), cfg); err != nil {
		return err
	}
	return b.Singleton(container.TypeOf[*config.PropertySource](), func(cfg *config.Config) *config.PropertySource {
		return config.NewPropertySource(cfg.Injector.ResourcesDir)
	})
}

// ── LoggerUnit ────────────────────────────────────────────────────────────────

// LoggerUnit binds the container's logger, or Logger when set.
//
// Bound types:
//   - *zap.Logger
type LoggerUnit struct {
	container.BaseUnit
	Logger *zap.Logger
}

func (u *LoggerUnit) UnitName() string { return "logger" }

func (u *LoggerUnit) Register(b *container.Binder) error {
	log := u.Logger
	if log == nil {
		log = b.Container().Logger()
	}
	return b.Value(container.TypeOf[*zap.Logger](), log)
}

// ── MetricsUnit ───────────────────────────────────────────────────────────────

// MetricsUnit binds the container's collector. It binds nothing when the
// container was built without one.
//
// Bound types:
//   - *metrics.Collector
type MetricsUnit struct {
	container.BaseUnit
}

func (u *MetricsUnit) UnitName() string { return "metrics" }

func (u *MetricsUnit) Register(b *container.Binder) error {
	m := b.Container().Metrics()
	if m == nil {
		return nil
	}
	return b.Value(container.TypeOf[*metrics.Collector](), m)
}

// ── InspectUnit ───────────────────────────────────────────────────────────────

// InspectUnit is deferred: the inspection server is only built the first
// time something resolves it.
//
// Bound types:
//   - *inspect.Server
type InspectUnit struct {
	container.BaseUnit
}

func (u *InspectUnit) UnitName() string { return "inspect" }

func (u *InspectUnit) Register(b *container.Binder) error {
	return b.Singleton(container.TypeOf[*inspect.Server](), inspect.New)
}

func (u *InspectUnit) Provides() []reflect.Type {
	return []reflect.Type{container.TypeOf[*inspect.Server]()}
}

func (u *InspectUnit) IsDeferred() bool { return true }

// ── PropertiesUnit ────────────────────────────────────────────────────────────

// PropertiesUnit decodes the YAML subtree under Prefix into a *T for each
// profile the unit is registered with, validates it and binds it as a
// singleton of that profile.
//
//	type MailProperties struct {
//	    Host string `yaml:"host" validate:"required"`
//	}
//
//	app.Register(&providers.PropertiesUnit[MailProperties]{Prefix: "mail"}, test)
//
// Bound types:
//   - *T, plus Aliases
type PropertiesUnit[T any] struct {
	container.BaseUnit
	Prefix  string
	Dir     string // default: config.ResourcesDir()
	Aliases []reflect.Type
}

func (u *PropertiesUnit[T]) UnitName() string {
	return fmt.Sprintf("properties:%s:%s", u.Prefix, container.TypeOf[T]())
}

func (u *PropertiesUnit[T]) Register(b *container.Binder) error {
	dir := u.Dir
	if dir == "" {
		dir = config.ResourcesDir()
	}
	src := config.NewPropertySource(dir)

	for _, p := range b.Profiles() {
		v := new(T)
		if err := src.Load(u.Prefix, p, v); err != nil {
			return err
		}
		opts := []container.RegisterOption{container.InProfiles(p)}
		if len(u.Aliases) > 0 {
			opts = append(opts, container.As(u.Aliases...))
		}
		if err := b.Value(container.TypeOf[*T](), v, opts...); err != nil {
			return err
		}
	}
	return nil
}
