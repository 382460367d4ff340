package settlement

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/nestorgt/go-settlement/auth"
	"github.com/nestorgt/go-settlement/core"
	"github.com/nestorgt/go-settlement/providers/airwallex"
	"github.com/nestorgt/go-settlement/providers/mercury"
	"github.com/nestorgt/go-settlement/providers/nexo"
	"github.com/nestorgt/go-settlement/providers/revolut"
	"github.com/nestorgt/go-settlement/providers/wise"
	"github.com/nestorgt/go-settlement/transport"
)

// ProviderBuild is a constructed integration. Connector is nil for
// providers that do not call through the request executor.
type ProviderBuild struct {
	Provider  core.Provider
	Connector core.Connector
}

// ProviderEnv carries the shared pieces a factory may wire in.
type ProviderEnv struct {
	Executor      core.Executor
	TokenAdapter  core.TransportAdapter
	ScrapeTimeout time.Duration
	Now           func() time.Time
}

type ProviderFactory func(cfg core.ProviderConfig, env ProviderEnv) (ProviderBuild, error)

func defaultProviderFactories() map[string]ProviderFactory {
	return map[string]ProviderFactory{
		revolut.ProviderID:   RevolutProvider,
		mercury.ProviderID:   MercuryProvider,
		airwallex.ProviderID: AirwallexProvider,
		wise.ProviderID:      WiseProvider,
		nexo.ProviderID:      NexoProvider,
	}
}

func RevolutProvider(cfg core.ProviderConfig, env ProviderEnv) (ProviderBuild, error) {
	key, err := auth.LoadRSAPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return ProviderBuild{}, fmt.Errorf("revolut: %w", err)
	}
	var cert *tls.Certificate
	if strings.TrimSpace(cfg.CertPath) != "" || strings.TrimSpace(cfg.KeyPath) != "" {
		cert, err = transport.LoadClientCertificate(cfg.CertPath, cfg.KeyPath)
		if err != nil {
			return ProviderBuild{}, fmt.Errorf("revolut: %w", err)
		}
	}
	revolutCfg := revolut.Config{
		BaseURL:          cfg.BaseURL,
		TokenURL:         cfg.TokenURL,
		ClientID:         cfg.ClientID,
		Issuer:           cfg.Issuer,
		PrivateKey:       key,
		Certificate:      cert,
		Audiences:        cfg.Audiences,
		FallbackAudience: cfg.FallbackAudience,
		RefreshToken:     cfg.RefreshToken,
		AuthCode:         cfg.AuthCode,
		AccountRefs:      cfg.AccountRefs,
		Adapter:          env.TokenAdapter,
		Now:              env.Now,
	}
	provider, err := revolut.New(revolutCfg, env.Executor)
	if err != nil {
		return ProviderBuild{}, err
	}
	return ProviderBuild{Provider: provider, Connector: revolut.NewConnector(revolutCfg)}, nil
}

func MercuryProvider(cfg core.ProviderConfig, env ProviderEnv) (ProviderBuild, error) {
	mercuryCfg := mercury.Config{
		BaseURL:     cfg.BaseURL,
		Token:       firstNonEmpty(cfg.Token, cfg.APIKey),
		AccountRefs: cfg.AccountRefs,
		Now:         env.Now,
	}
	provider, err := mercury.New(mercuryCfg, env.Executor)
	if err != nil {
		return ProviderBuild{}, err
	}
	return ProviderBuild{Provider: provider, Connector: mercury.NewConnector(mercuryCfg)}, nil
}

func AirwallexProvider(cfg core.ProviderConfig, env ProviderEnv) (ProviderBuild, error) {
	airwallexCfg := airwallex.Config{
		BaseURL:  cfg.BaseURL,
		LoginURL: cfg.TokenURL,
		ClientID: cfg.ClientID,
		APIKey:   cfg.APIKey,
		Adapter:  env.TokenAdapter,
		Now:      env.Now,
	}
	provider, err := airwallex.New(airwallexCfg, env.Executor)
	if err != nil {
		return ProviderBuild{}, err
	}
	return ProviderBuild{Provider: provider, Connector: airwallex.NewConnector(airwallexCfg)}, nil
}

func WiseProvider(cfg core.ProviderConfig, env ProviderEnv) (ProviderBuild, error) {
	wiseCfg := wise.Config{
		BaseURL:   cfg.BaseURL,
		Token:     firstNonEmpty(cfg.Token, cfg.APIKey),
		ProfileID: cfg.ProfileID,
		Now:       env.Now,
	}
	provider, err := wise.New(wiseCfg, env.Executor)
	if err != nil {
		return ProviderBuild{}, err
	}
	return ProviderBuild{Provider: provider, Connector: wise.NewConnector(wiseCfg)}, nil
}

// NexoProvider talks to its automation sidecar directly, so no broker or
// executor registration is involved.
func NexoProvider(cfg core.ProviderConfig, env ProviderEnv) (ProviderBuild, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return ProviderBuild{}, fmt.Errorf("nexo: adapter url is required")
	}
	connector := nexo.NewConnector(nexo.Config{
		AdapterURL: cfg.BaseURL,
		Secret:     firstNonEmpty(cfg.APIKey, cfg.Token),
		Timeout:    env.ScrapeTimeout,
		Adapter:    env.TokenAdapter,
		Now:        env.Now,
	})
	return ProviderBuild{Provider: nexo.New(connector)}, nil
}

func normalizeProviderID(providerID string) string {
	return strings.ToLower(strings.TrimSpace(providerID))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
