package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hollis/braid/internal/config"
	"github.com/hollis/braid/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// CatalogFileName is the materialized provider catalog the model runtime
// reads from the agent directory.
const CatalogFileName = "models.json"

// ResolveModel looks up the provider block and model entry for a requested
// provider/model pair. Any miss, provider or model, is an UnknownModelError
// so callers fail fast before touching the runtime.
func ResolveModel(cfg *config.Config, provider, model string) (*config.ProviderConfig, *config.ModelConfig, error) {
	if cfg == nil {
		return nil, nil, &UnknownModelError{Provider: provider, Model: model}
	}

	pc, ok := cfg.Providers[provider]
	if !ok {
		return nil, nil, &UnknownModelError{Provider: provider, Model: model}
	}

	for i := range pc.Models {
		if pc.Models[i].ID == model {
			return &pc, &pc.Models[i], nil
		}
	}

	return nil, nil, &UnknownModelError{Provider: provider, Model: model}
}

// ProviderForModel returns the name of the provider whose catalog carries
// model. Provider names are scanned in sorted order so the answer is
// deterministic when two providers list the same ID.
func ProviderForModel(cfg *config.Config, model string) (string, bool) {
	if cfg == nil || model == "" {
		return "", false
	}

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, m := range cfg.Providers[name].Models {
			if m.ID == model {
				return name, true
			}
		}
	}
	return "", false
}

// catalogFile is the on-disk shape of the materialized catalog. Credentials
// never leave the config; only connection and model metadata are written.
type catalogFile struct {
	Providers map[string]catalogProvider `json:"providers"`
}

type catalogProvider struct {
	API     string         `json:"api"`
	BaseURL string         `json:"baseUrl,omitempty"`
	Models  []catalogModel `json:"models"`
}

type catalogModel struct {
	ID            string             `json:"id"`
	Name          string             `json:"name,omitempty"`
	Reasoning     bool               `json:"reasoning,omitempty"`
	ContextWindow int                `json:"contextWindow,omitempty"`
	MaxTokens     int                `json:"maxTokens,omitempty"`
	Cost          map[string]float64 `json:"cost,omitempty"`
}

// MaterializeCatalog writes the provider catalog to <agentDir>/models.json
// so the model runtime can enumerate what it may call. The write is atomic
// (temp file + rename) and independent of whether any particular model
// resolves; an unknown requested model must still see a complete catalog.
func MaterializeCatalog(ctx context.Context, cfg *config.Config, agentDir string) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("materialize catalog: nil config")
	}
	if agentDir == "" {
		return "", fmt.Errorf("materialize catalog: empty agent dir")
	}

	_, span := tracing.StartSpan(
		ctx,
		"braid.agent",
		"catalog.materialize",
		attribute.String("agent_dir", agentDir),
	)
	defer span.End()

	out := catalogFile{Providers: make(map[string]catalogProvider, len(cfg.Providers))}
	for name, pc := range cfg.Providers {
		cp := catalogProvider{
			API:     pc.API,
			BaseURL: pc.BaseURL,
			Models:  make([]catalogModel, 0, len(pc.Models)),
		}
		for _, m := range pc.Models {
			cm := catalogModel{
				ID:            m.ID,
				Name:          m.Name,
				Reasoning:     m.Reasoning,
				ContextWindow: m.ContextWindow,
				MaxTokens:     m.MaxTokens,
			}
			if m.Cost != (config.CostConfig{}) {
				cm.Cost = map[string]float64{
					"input":  m.Cost.Input,
					"output": m.Cost.Output,
				}
				if m.Cost.CacheRead > 0 {
					cm.Cost["cacheRead"] = m.Cost.CacheRead
				}
				if m.Cost.CacheWrite > 0 {
					cm.Cost["cacheWrite"] = m.Cost.CacheWrite
				}
			}
			cp.Models = append(cp.Models, cm)
		}
		out.Providers[name] = cp
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal catalog: %w", err)
	}

	if err := os.MkdirAll(agentDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create agent dir: %w", err)
	}

	path := filepath.Join(agentDir, CatalogFileName)
	tmp, err := os.CreateTemp(agentDir, CatalogFileName+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create catalog temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to sync catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close catalog temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to install catalog: %w", err)
	}

	return path, nil
}
