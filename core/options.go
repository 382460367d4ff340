package core

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "SETTLEMENT_"

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// YAMLFileLoader reads a YAML document and applies SETTLEMENT_* secret
// overrides on top of it.
type YAMLFileLoader struct {
	Path   string
	Lookup func(key string) (string, bool)
}

func (l YAMLFileLoader) LoadRaw(context.Context) (map[string]any, error) {
	raw := map[string]any{}
	if path := strings.TrimSpace(l.Path); path != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("core: read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(payload, &raw); err != nil {
			return nil, fmt.Errorf("core: parse config %q: %w", path, err)
		}
	}
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	applyEnvOverrides(raw, lookup)
	return raw, nil
}

var envSectionOverrides = map[string][]string{
	"API_SECRET":     {"server", "api_secret"},
	"ADDR":           {"server", "addr"},
	"REDIS_ADDR":     {"redis", "addr"},
	"STORAGE_DSN":    {"storage", "dsn"},
	"STORAGE_DRIVER": {"storage", "driver"},
	"CACHE_DIR":      {"broker", "cache_dir"},
}

var envProviderFields = []string{"token", "api_key", "client_id", "refresh_token", "auth_code", "base_url"}

func applyEnvOverrides(raw map[string]any, lookup func(string) (string, bool)) {
	for suffix, path := range envSectionOverrides {
		if value, ok := lookup(EnvPrefix + suffix); ok && strings.TrimSpace(value) != "" {
			setNested(raw, strings.TrimSpace(value), path...)
		}
	}
	providers, _ := raw["providers"].(map[string]any)
	for id := range providers {
		for _, field := range envProviderFields {
			key := EnvPrefix + strings.ToUpper(id) + "_" + strings.ToUpper(field)
			if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
				setNested(raw, strings.TrimSpace(value), "providers", id, field)
			}
		}
	}
}

func setNested(raw map[string]any, value any, path ...string) {
	current := raw
	for index, key := range path {
		if index == len(path)-1 {
			current[key] = value
			return
		}
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver merges defaults, file config and runtime overrides with
// increasing priority.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer, err := configToLayerMap(defaults)
	if err != nil {
		return Config{}, err
	}
	loadedLayer, err := configToLayerMap(loaded)
	if err != nil {
		return Config{}, err
	}
	runtimeLayer, err := configToLayerMap(runtime)
	if err != nil {
		return Config{}, err
	}

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap drops zero values so an unset field never shadows a
// lower layer.
func configToLayerMap(cfg Config) (map[string]any, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("core: encode config layer: %w", err)
	}
	layer := map[string]any{}
	if err := json.Unmarshal(payload, &layer); err != nil {
		return nil, fmt.Errorf("core: decode config layer: %w", err)
	}
	pruneEmpty(layer)
	return layer, nil
}

func pruneEmpty(layer map[string]any) {
	for key, value := range layer {
		nested, ok := value.(map[string]any)
		if !ok {
			continue
		}
		pruneEmpty(nested)
		if len(nested) == 0 {
			delete(layer, key)
		}
	}
}

// LoadConfig resolves the engine configuration from a YAML file, SETTLEMENT_*
// environment overrides and runtime values.
func LoadConfig(ctx context.Context, path string, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	loaded, err := NewCfgxConfigProvider(YAMLFileLoader{Path: path}).Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}
