package embedding

import (
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/docrag/pkg/config"
	"github.com/WessleyAI/docrag/pkg/ollama"
	"github.com/WessleyAI/docrag/pkg/openai"
	"github.com/WessleyAI/docrag/pkg/resilience"
)

// FromConfig builds the guarded provider named by cfg.Provider.
// Outgoing calls carry the caller's trace context.
func FromConfig(cfg config.Embedding, logger *slog.Logger) (*Shared, error) {
	hc := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	var p Provider
	switch cfg.Provider {
	case "ollama":
		p = ollama.NewEmbedClient(cfg.URL, cfg.Model, cfg.Dimensions, ollama.WithHTTPClient(hc))
	case "openai":
		p = openai.NewEmbedClient(cfg.APIKey, cfg.URL, cfg.Model, cfg.Dimensions, hc)
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
	return Guard(p, Options{
		Timeout: cfg.Timeout,
		Rate:    cfg.Rate,
		Burst:   cfg.Burst,
		Breaker: resilience.BreakerOpts{
			FailThreshold: cfg.BreakerThreshold,
			Cooldown:      cfg.BreakerCooldown,
		},
		Logger: logger,
	}), nil
}
