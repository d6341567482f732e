package app

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"negotiator/internal/agent"
	cfgloader "negotiator/internal/config/loader"
	"negotiator/internal/logger"
)

const baseProfileName = "default"

type cachedDecider struct {
	version int64
	decider *agent.Decider
}

// profileDeciders 按 profile 名称提供 Decider，并在 profiles 文件热更新后重建。
type profileDeciders struct {
	base   *agent.Decider
	loader *cfgloader.ProfileLoader
	// fallback 覆盖 profiles 文件中的 default 标记（strategy.default_profile）。
	fallback string

	mu    sync.Mutex
	cache map[string]cachedDecider
}

func newProfileDeciders(base *agent.Decider, loader *cfgloader.ProfileLoader, fallback string) (*profileDeciders, error) {
	p := &profileDeciders{
		base:     base,
		loader:   loader,
		fallback: strings.TrimSpace(fallback),
		cache:    make(map[string]cachedDecider),
	}
	if p.fallback != "" {
		if _, _, err := p.Decider(""); err != nil {
			return nil, fmt.Errorf("strategy.default_profile: %w", err)
		}
	}
	if loader != nil {
		if err := p.buildAll(); err != nil {
			return nil, err
		}
		loader.Subscribe(p.onReload)
	}
	return p, nil
}

// buildAll resolves every profile so a variant the loaded table cannot serve
// fails at startup instead of on the first request.
func (p *profileDeciders) buildAll() error {
	var errs []error
	for _, name := range p.loader.Snapshot().Names() {
		if _, _, err := p.Decider(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *profileDeciders) onReload(snap cfgloader.ProfileSnapshot) {
	p.mu.Lock()
	for name, c := range p.cache {
		if c.version != snap.Version {
			delete(p.cache, name)
		}
	}
	p.mu.Unlock()
	if err := p.buildAll(); err != nil {
		logger.Warnf("profiles v%d: %v", snap.Version, err)
	}
	logger.Infof("profiles v%d active: %s (default %s)", snap.Version, strings.Join(snap.Names(), ", "), snap.DefaultName)
}

// Decider resolves profile; an empty name picks strategy.default_profile, then
// the file's default profile, or the base strategy when no profiles file is loaded.
func (p *profileDeciders) Decider(profile string) (*agent.Decider, string, error) {
	profile = strings.TrimSpace(profile)
	if profile == "" {
		profile = p.fallback
	}
	if p.loader == nil {
		if profile == "" || profile == baseProfileName {
			return p.base, baseProfileName, nil
		}
		return nil, "", fmt.Errorf("%w %q", cfgloader.ErrUnknownProfile, profile)
	}
	snap := p.loader.Snapshot()
	if profile == "" {
		profile = snap.DefaultName
	}
	def, ok := snap.Profiles[profile]
	if !ok {
		return nil, "", fmt.Errorf("%w %q", cfgloader.ErrUnknownProfile, profile)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.cache[profile]; ok && c.version == snap.Version {
		return c.decider, profile, nil
	}
	d, err := p.base.WithParams(def.StrategyParams())
	if err != nil {
		return nil, "", fmt.Errorf("profile %s: %w", profile, err)
	}
	p.cache[profile] = cachedDecider{version: snap.Version, decider: d}
	return d, profile, nil
}

// Names lists the servable profile names.
func (p *profileDeciders) Names() []string {
	if p.loader == nil {
		return []string{baseProfileName}
	}
	return p.loader.Snapshot().Names()
}
