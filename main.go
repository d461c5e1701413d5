package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/km-arc/go-injector/framework/app"
	"github.com/km-arc/go-injector/framework/container"
	"github.com/km-arc/go-injector/framework/providers"
)

// ── Demo domain ───────────────────────────────────────────────────────────────

type Clock interface{ Now() time.Time }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type frozenClock struct{ at time.Time }

func (c frozenClock) Now() time.Time { return c.at }

type MailProperties struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"gt=0"`
}

type Mailer struct {
	props *MailProperties
	clock Clock
}

func NewMailer(props *MailProperties, clock Clock) *Mailer {
	return &Mailer{props: props, clock: clock}
}

func (m *Mailer) Describe() string {
	return fmt.Sprintf("%s:%d at %s", m.props.Host, m.props.Port, m.clock.Now().Format(time.RFC3339))
}

type Check interface{ Name() string }

type mailCheck struct{}

func (mailCheck) Name() string { return "mail" }

// Envelope is built fresh for every send.
type Envelope struct {
	ID     int64
	Mailer *Mailer
}

// ── Units ─────────────────────────────────────────────────────────────────────

type mailUnit struct{ container.BaseUnit }

func (mailUnit) UnitName() string { return "mail" }

func (mailUnit) Register(b *container.Binder) error {
	c := b.Container()
	test := b.Profile("test", 10)

	if err := b.ProfileScoped(container.TypeOf[Clock](), func() Clock { return systemClock{} }); err != nil {
		return err
	}
	if err := b.ProfileScoped(container.TypeOf[Clock](), func() Clock {
		return frozenClock{at: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	}, container.InProfiles(test)); err != nil {
		return err
	}
	if err := b.Singleton(container.TypeOf[*Mailer](), NewMailer); err != nil {
		return err
	}
	if err := b.Value(container.TypeOf[mailCheck](), mailCheck{}); err != nil {
		return err
	}
	if err := b.Multibind(container.TypeOf[[]Check](), container.TypeOf[mailCheck]()); err != nil {
		return err
	}
	var seq int64
	return container.RegisterPrototype[*Envelope](c, func(m *Mailer) *Envelope {
		seq++
		return &Envelope{ID: seq, Mailer: m}
	})
}

func main() {
	application, err := app.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := application.Log

	if err := application.Register(&providers.PropertiesUnit[MailProperties]{Prefix: "mail"}); err != nil {
		log.Fatal("register properties", zap.Error(err))
	}
	if err := application.Register(mailUnit{}); err != nil {
		log.Fatal("register mail unit", zap.Error(err))
	}
	if err := application.Boot(); err != nil {
		log.Fatal("boot", zap.Error(err))
	}

	mailer := container.Must[*Mailer](application.Container)
	log.Info("mailer ready", zap.String("mailer", mailer.Describe()))

	checks := container.Must[[]Check](application.Container)
	for _, c := range checks {
		log.Info("health check registered", zap.String("check", c.Name()))
	}

	first := container.Must[*Envelope](application.Container)
	second := container.Must[*Envelope](application.Container)
	log.Info("prototype envelopes", zap.Int64("first", first.ID), zap.Int64("second", second.ID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := application.Run(ctx); err != nil {
		log.Fatal("run", zap.Error(err))
	}
}
