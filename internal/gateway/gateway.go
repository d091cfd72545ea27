// Package gateway is the orchestrator: it selects and caches provider
// adapters, drives a single conversational turn through the chosen adapter,
// and runs the bounded tool-execution loop. Every backend failure is wrapped
// into one annotated error shape before it reaches the caller.
package gateway

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/modelgate/modelgate/internal/adapters"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/schema"
)

const defaultMaxToolRounds = 8

// Gateway owns the provider→adapter cache and the per-turn orchestration.
// Adapters are constructed lazily on first use and shared across calls, so
// they must hold no per-call state beyond static configuration.
type Gateway struct {
	cfg      *config.Config
	recorder schema.UsageRecorder
	keys     schema.CredentialStore
	engine   adapters.Engine
	log      *slog.Logger

	mu     sync.Mutex
	cache  map[string]adapters.Adapter
	flight singleflight.Group
}

// New wires a Gateway from its collaborators. recorder, keys, and engine may
// be nil: usage recording then degrades to logging, records go untagged, and
// the embedded provider reports no model loaded.
func New(cfg *config.Config, recorder schema.UsageRecorder, keys schema.CredentialStore, engine adapters.Engine, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		cfg:      cfg,
		recorder: recorder,
		keys:     keys,
		engine:   engine,
		log:      log,
		cache:    make(map[string]adapters.Adapter),
	}
}

// Adapter returns the cached adapter for provider, constructing it on first
// use. Construction is guarded by singleflight so two concurrent first-uses
// of the same provider build exactly one instance.
func (g *Gateway) Adapter(provider string) (adapters.Adapter, error) {
	g.mu.Lock()
	if a, ok := g.cache[provider]; ok {
		g.mu.Unlock()
		return a, nil
	}
	g.mu.Unlock()

	v, err, _ := g.flight.Do(provider, func() (any, error) {
		g.mu.Lock()
		if a, ok := g.cache[provider]; ok {
			g.mu.Unlock()
			return a, nil
		}
		g.mu.Unlock()

		a, err := g.build(provider)
		if err != nil {
			return nil, err
		}

		g.mu.Lock()
		g.cache[provider] = a
		g.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(adapters.Adapter), nil
}

func (g *Gateway) build(provider string) (adapters.Adapter, error) {
	spec := adapters.FindByName(provider)
	if spec == nil {
		return nil, &schema.ConfigError{Reason: "unknown provider " + provider}
	}

	pc := g.cfg.Provider(provider)
	apiKey := pc.APIKey
	if apiKey == "" && spec.EnvKey != "" {
		apiKey = os.Getenv(spec.EnvKey)
	}

	return adapters.New(adapters.Params{
		Name:         provider,
		APIKey:       apiKey,
		BaseURL:      pc.BaseURL,
		DefaultModel: pc.DefaultModel,
		Engine:       g.engine,
	})
}

// Reconfigure drops the cached adapter for provider so the next use rebuilds
// it from current configuration (new credentials, new endpoint).
func (g *Gateway) Reconfigure(provider string) {
	g.mu.Lock()
	delete(g.cache, provider)
	g.mu.Unlock()
}

// ErrorText maps err to the provider's actionable human text, falling back to
// the raw error when the adapter cannot be resolved.
func (g *Gateway) ErrorText(provider string, err error) string {
	a, aerr := g.Adapter(provider)
	if aerr != nil {
		return err.Error()
	}
	return a.ErrorMessage(err)
}

// resolveProvider applies the explicit argument, else the configured active
// provider.
func (g *Gateway) resolveProvider(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if g.cfg.ActiveProvider != "" {
		return g.cfg.ActiveProvider, nil
	}
	return "", &schema.ConfigError{Reason: "no provider selected and no active provider configured"}
}

// fail is the single funnel every backend failure passes through: it wraps
// err into the annotated gateway error, logs it, delivers it to the caller's
// error callback, and returns it.
func (g *Gateway) fail(provider, message string, err error, onError func(error)) (schema.Completion, error) {
	gerr := &schema.GatewayError{Message: message, Provider: provider, Err: err}
	g.log.Error("turn failed", "provider", provider, "stage", message, "err", err)
	if onError != nil {
		onError(gerr)
	}
	return schema.Completion{}, gerr
}

// recordUsage emits one usage record for a completed backend call. Cost is
// looked up against the adapter's model list; models without pricing (local,
// embedded) cost zero. Recording failures never fail the turn.
func (g *Gateway) recordUsage(ctx context.Context, a adapters.Adapter, provider, model, sessionID, projectID string, usage schema.TokenUsage) {
	var cost float64
	for _, m := range a.Models(ctx) {
		if m.ID == model {
			cost = m.Cost(usage)
			break
		}
	}

	rec := schema.UsageRecord{
		Provider:     provider,
		Model:        model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      cost,
		SessionID:    sessionID,
		ProjectID:    projectID,
	}
	if g.keys != nil {
		rec.APIKeyID = g.keys.ActiveAPIKeyID(provider)
	}

	if g.recorder == nil {
		g.log.Info("usage", "provider", provider, "model", model,
			"input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens, "cost_usd", cost)
		return
	}
	if err := g.recorder.RecordUsage(ctx, rec); err != nil {
		g.log.Warn("usage recording failed", "provider", provider, "err", err)
	}
}

func (g *Gateway) maxToolRounds() int {
	if g.cfg.MaxToolRounds > 0 {
		return g.cfg.MaxToolRounds
	}
	return defaultMaxToolRounds
}
