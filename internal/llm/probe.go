package llm

import (
	"context"

	"go.uber.org/zap"

	"llm-relay/pkg/utils"
)

// probePrompt is the minimal prompt sent when exercising a credential.
const probePrompt = "Hi"

// Probe tests every configured credential against the completion endpoint
// for diagnostics. Unlike the failover loop it walks keys in list order,
// never stops on a success, and never touches the rotation cursor.
type Probe struct {
	// NewClient builds the per-credential client; nil selects the
	// OpenAI-compatible HTTP client.
	NewClient ClientFactory
	Logger    *zap.Logger
}

// TestAllKeys calls the endpoint once per parsed credential and reports
// per-key success or failure.
//
// Missing inputs or a credential string that parses to zero usable keys
// return an empty result without any network call: that situation is a
// configuration problem, not a connectivity one, and is logged as such.
func (p *Probe) TestAllKeys(ctx context.Context, endpointURL, rawKeys, model string) []AttemptResult {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if endpointURL == "" || model == "" {
		logger.Warn("connectivity probe skipped: endpoint or model not configured")
		return []AttemptResult{}
	}

	keys, report := ParseKeys(rawKeys)
	if len(keys) == 0 {
		logger.Warn("connectivity probe skipped: no usable API keys",
			zap.String("summary", report.Message))
		return []AttemptResult{}
	}

	messages := []Message{{Role: RoleUser, Content: probePrompt}}
	results := make([]AttemptResult, 0, len(keys))

	for i, key := range keys {
		client := p.newClient(endpointURL, key, model, logger)

		_, err := client.Call(ctx, messages, nil)
		if err != nil {
			logger.Info("probe failed",
				zap.String("key", utils.MaskToken(key)),
				zap.Error(err))
			results = append(results, AttemptResult{KeyIndex: i, Error: errorText(err)})
			continue
		}

		logger.Info("probe succeeded", zap.String("key", utils.MaskToken(key)))
		results = append(results, AttemptResult{KeyIndex: i, Success: true})
	}

	return results
}

func (p *Probe) newClient(endpointURL, key, model string, logger *zap.Logger) ModelClient {
	cfg := ClientConfig{
		EndpointURL: endpointURL,
		APIKey:      key,
		Model:       model,
	}
	if p.NewClient != nil {
		return p.NewClient(cfg)
	}
	return NewOpenAIClient(cfg, logger)
}
