package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/copilotz/copilotz/pkg/config"
	"github.com/copilotz/copilotz/pkg/llm"
	"github.com/copilotz/copilotz/pkg/models"
)

// BuildRegistry constructs a provider registry from the configured
// provider map. Providers without config are skipped; agents referencing
// them fail at call time with ProviderError.
func BuildRegistry(ctx context.Context, cfgs map[string]config.ProviderConfig) (*llm.Registry, error) {
	registry := llm.NewRegistry()
	for name, cfg := range cfgs {
		switch models.Provider(name) {
		case models.ProviderOpenAI:
			registry.Register(models.ProviderOpenAI, NewOpenAI(cfg))
		case models.ProviderAnthropic:
			registry.Register(models.ProviderAnthropic, NewAnthropic(cfg))
		case models.ProviderGemini:
			client, err := NewGemini(ctx, cfg)
			if err != nil {
				return nil, err
			}
			registry.Register(models.ProviderGemini, client)
		default:
			return nil, fmt.Errorf("unknown provider %q in config", name)
		}
	}
	return registry, nil
}

func decodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}
