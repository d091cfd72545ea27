// Package dependency wires core modelgate services using go.uber.org/dig.
package dependency

import (
	"log/slog"

	"go.uber.org/dig"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/gateway"
	"github.com/modelgate/modelgate/internal/schema"
	"github.com/modelgate/modelgate/internal/session"
	"github.com/modelgate/modelgate/internal/usage"
)

// Container holds the resolved core service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	cfg      *config.Config
	gw       *gateway.Gateway
	tracker  *usage.Tracker
	sessions *session.Manager
}

func (c *Container) Config() *config.Config     { return c.cfg }
func (c *Container) Gateway() *gateway.Gateway  { return c.gw }
func (c *Container) Usage() *usage.Tracker      { return c.tracker }
func (c *Container) Sessions() *session.Manager { return c.sessions }

// New builds and wires all core services from cfg.
func New(cfg *config.Config) (*Container, error) {
	d := dig.New()

	if err := d.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}
	if err := d.Provide(newLogger); err != nil {
		return nil, err
	}
	if err := d.Provide(usage.NewTracker); err != nil {
		return nil, err
	}
	if err := d.Provide(newUsageRecorder); err != nil {
		return nil, err
	}
	if err := d.Provide(newCredentialStore); err != nil {
		return nil, err
	}
	if err := d.Provide(session.NewManager); err != nil {
		return nil, err
	}
	if err := d.Provide(newGateway); err != nil {
		return nil, err
	}

	var result *Container
	err := d.Invoke(func(
		gw *gateway.Gateway,
		tracker *usage.Tracker,
		sessions *session.Manager,
	) {
		result = &Container{
			cfg:      cfg,
			gw:       gw,
			tracker:  tracker,
			sessions: sessions,
		}
	})
	return result, err
}

func newLogger() *slog.Logger {
	return slog.Default()
}

func newUsageRecorder(t *usage.Tracker) schema.UsageRecorder {
	return t
}

func newCredentialStore(cfg *config.Config) schema.CredentialStore {
	return cfg
}

func newGateway(
	cfg *config.Config,
	recorder schema.UsageRecorder,
	keys schema.CredentialStore,
	log *slog.Logger,
) *gateway.Gateway {
	// No in-process inference engine ships with the CLI; the embedded
	// provider reports no model loaded until a host attaches one.
	return gateway.New(cfg, recorder, keys, nil, log)
}
