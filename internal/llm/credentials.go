package llm

import (
	"context"
	"time"
)

const pingTimeout = 10 * time.Second

// credentialProviders maps stored credential names onto the provider whose
// models they unlock.
var credentialProviders = map[string]Provider{
	"openai_api_key":     ProviderOpenAI,
	"anthropic_api_key":  ProviderAnthropic,
	"openrouter_api_key": ProviderOpenRouter,
	"aws_access_key_id":  ProviderBedrock,
}

// RefreshUserModels recomputes a user's model allowlist from the names of
// their stored credentials. Demo and local models need no credential; every
// other candidate must both belong to a credentialed provider and answer a
// minimal validation ping, or it is dropped. Call this after every credential
// mutation. A user with no usable credentials falls back to the process-level
// catalog.
func (s *Service) RefreshUserModels(ctx context.Context, userID string, credentialNames []string) []ModelInfo {
	unlocked := make(map[Provider]bool)
	for _, name := range credentialNames {
		if p, ok := credentialProviders[name]; ok {
			unlocked[p] = true
		}
	}

	s.mu.RLock()
	catalog := make([]ModelInfo, len(s.catalog))
	copy(catalog, s.catalog)
	s.mu.RUnlock()

	var allowed []string
	var out []ModelInfo
	for _, info := range catalog {
		switch info.Provider {
		case ProviderDemo, ProviderLocal:
		default:
			if !unlocked[info.Provider] {
				continue
			}
		}
		if err := s.ping(ctx, info.Name); err != nil {
			s.logger.Warnf("⚠️ Dropping model %s for user %s: validation ping failed: %v", info.Name, userID, err)
			continue
		}
		allowed = append(allowed, info.Name)
		out = append(out, info)
	}

	s.SetUserModels(userID, allowed)
	s.logger.Infof("🔑 Refreshed model access for user %s: %d of %d models", userID, len(allowed), len(catalog))
	return out
}

// ping proves a model is reachable with a one-token generation.
func (s *Service) ping(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	_, err := s.generate(ctx, Request{Model: model, Prompt: "ping", MaxTokens: 1}, nil)
	return err
}
