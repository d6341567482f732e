package config

import (
	"fmt"
	"strings"

	"negotiator/internal/agent"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Strategy.Params().Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if err := c.Counterpart.validate(); err != nil {
		return err
	}
	if err := c.Forecast.validate(); err != nil {
		return err
	}
	variant := c.Strategy.Params().Variant
	if want, ok := agent.TableKindFor(variant); ok {
		if c.Forecast.Source == ForecastSourceNone {
			return fmt.Errorf("strategy.variant %s requires forecast.source (file or store)", variant)
		}
		if kind, _ := c.Forecast.TableKind(); kind != want {
			return fmt.Errorf("strategy.variant %s requires forecast.kind %s, got %s", variant, want, kind)
		}
	}
	if err := c.Simulation.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogFormat)) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text or json")
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (c *CounterpartConfig) validate() error {
	if c.ExpectedQuantitySeller <= 0 || c.ExpectedQuantityBuyer <= 0 {
		return fmt.Errorf("counterpart.expected_quantity_* must be > 0")
	}
	if c.DisposalCost < 0 || c.ShortfallPenalty < 0 || c.ProductionCostStep < 0 {
		return fmt.Errorf("counterpart costs must be >= 0")
	}
	if c.NLines <= 0 {
		return fmt.Errorf("counterpart.n_lines must be > 0")
	}
	return nil
}

func (f *ForecastConfig) validate() error {
	if _, err := f.TableKind(); err != nil {
		return fmt.Errorf("forecast.kind: %w", err)
	}
	switch f.Source {
	case ForecastSourceNone, ForecastSourceStore:
	case ForecastSourceFile:
		if strings.TrimSpace(f.Path) == "" {
			return fmt.Errorf("forecast.path is required when forecast.source=file")
		}
	default:
		return fmt.Errorf("forecast.source must be none, file or store")
	}
	return nil
}

func (s *SimulationConfig) validate() error {
	if s.MinPrice < 0 || s.MaxPrice < s.MinPrice {
		return fmt.Errorf("simulation price range [%d,%d] is invalid", s.MinPrice, s.MaxPrice)
	}
	if s.Sellers <= 0 || s.Buyers <= 0 {
		return fmt.Errorf("simulation needs at least one seller and one buyer")
	}
	return nil
}
