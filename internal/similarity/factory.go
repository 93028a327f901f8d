package similarity

import (
	"fmt"
	"strings"

	"github.com/Veraticus/invoice-match/internal/common"
	"github.com/Veraticus/invoice-match/internal/config"
	"github.com/Veraticus/invoice-match/internal/llm"
	"github.com/Veraticus/invoice-match/internal/service"
)

// New builds the provider named by the configured strategy.
func New(cfg config.SimilarityConfig) (service.SimilarityProvider, error) {
	switch strings.ToLower(cfg.Strategy) {
	case config.StrategyDelegated, config.StrategyLLM:
		fallback, err := newLocal(cfg.Fallback)
		if err != nil {
			return nil, err
		}
		opts := DelegatedOptions{
			Fallback:          fallback,
			Endpoint:          cfg.Endpoint,
			APIKey:            cfg.APIKey,
			Timeout:           cfg.Timeout,
			CacheTTL:          cfg.CacheTTL,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		}
		if strings.EqualFold(cfg.Strategy, config.StrategyLLM) {
			client, err := llm.NewClient(llm.Config{
				Provider:    cfg.LLM.Provider,
				APIKey:      cfg.LLM.APIKey,
				Model:       cfg.LLM.Model,
				BaseURL:     cfg.LLM.BaseURL,
				Timeout:     cfg.LLM.Timeout,
				Temperature: cfg.LLM.Temperature,
			})
			if err != nil {
				return nil, err
			}
			opts.Remote = llm.NewScorer(client, common.RetryOptions{})
		}
		return NewDelegated(opts)
	default:
		return newLocal(cfg.Strategy)
	}
}

func newLocal(strategy string) (service.SimilarityProvider, error) {
	switch strings.ToLower(strategy) {
	case config.StrategyExact:
		return Exact{}, nil
	case config.StrategyToken:
		return TokenOverlap{}, nil
	case config.StrategyEdit:
		return EditDistance{}, nil
	case config.StrategyComposite, "":
		return Composite{}, nil
	default:
		return nil, fmt.Errorf("unsupported similarity strategy: %s", strategy)
	}
}
