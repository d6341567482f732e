package config

import (
	"strings"

	"negotiator/internal/strategy"
	"negotiator/internal/ufun"
)

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppLogFormat    = "text"
	defaultAppHTTPAddr     = ":9992"
	defaultProfilesPath    = "configs/profiles.yaml"
	defaultForecastKind    = "mean_or_disagreement"
	defaultForecastSource  = ForecastSourceNone
	defaultHistoryPath     = "data/history.db"
	defaultDecisionLogPath = "data/decisions.db"
	defaultSimMarkets      = 4
	defaultSimRounds       = 20
	defaultSimNSteps       = 20
	defaultSimSellers      = 3
	defaultSimBuyers       = 3
	defaultSimMinPrice     = 15
	defaultSimMaxPrice     = 25
	defaultSimMaxExogQty   = 10
	defaultSimSeed         = 1
)

// Default 返回全部使用默认值的配置（未提供配置文件时使用）。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(nil)
	return &cfg
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Counterpart.applyDefaults(keys)
	c.Forecast.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Simulation.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	base := strategy.DefaultParams()
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.variant", &s.Variant, string(base.Variant)),
		stringFieldDefault("strategy.profiles_path", &s.ProfilesPath, defaultProfilesPath),
		floatFieldDefault("strategy.aspiration_exponent", &s.AspirationExponent, base.AspirationExponent),
		// nash_balance=0 是合法值，只有未显式设置时才填默认。
		fieldDefault{
			key:   "strategy.nash_balance",
			apply: func() { s.NashBalance = base.NashBalance },
		},
		fieldDefault{
			key:   "strategy.grid_max_quantity",
			need:  func() bool { return s.GridMaxQuantity <= 0 },
			apply: func() { s.GridMaxQuantity = base.GridMaxQuantity },
		},
	)
}

func (c *CounterpartConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	def := ufun.DefaultCounterpartConfig()
	applyFieldDefaults(keys,
		floatFieldDefault("counterpart.expected_quantity_seller", &c.ExpectedQuantitySeller, def.ExpectedQuantitySeller),
		floatFieldDefault("counterpart.expected_quantity_buyer", &c.ExpectedQuantityBuyer, def.ExpectedQuantityBuyer),
		floatFieldDefault("counterpart.production_cost_step", &c.ProductionCostStep, def.ProductionCostStep),
		floatFieldDefault("counterpart.disposal_cost", &c.DisposalCost, def.DisposalCost),
		floatFieldDefault("counterpart.shortfall_penalty", &c.ShortfallPenalty, def.ShortfallPenalty),
		floatFieldDefault("counterpart.seller_input_unit_price", &c.SellerInputUnitPrice, def.SellerInputUnitPrice),
		floatFieldDefault("counterpart.buyer_output_unit_price", &c.BuyerOutputUnitPrice, def.BuyerOutputUnitPrice),
		fieldDefault{
			key:   "counterpart.n_lines",
			need:  func() bool { return c.NLines <= 0 },
			apply: func() { c.NLines = def.NLines },
		},
	)
}

func (f *ForecastConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("forecast.kind", &f.Kind, defaultForecastKind),
		stringFieldDefault("forecast.source", &f.Source, defaultForecastSource),
	)
	f.Source = strings.ToLower(strings.TrimSpace(f.Source))
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.history_path", &s.HistoryPath, defaultHistoryPath),
		stringFieldDefault("store.decision_log_path", &s.DecisionLogPath, defaultDecisionLogPath),
	)
}

func (s *SimulationConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("simulation.markets", &s.Markets, defaultSimMarkets),
		intFieldDefault("simulation.rounds", &s.Rounds, defaultSimRounds),
		intFieldDefault("simulation.n_steps", &s.NSteps, defaultSimNSteps),
		intFieldDefault("simulation.sellers", &s.Sellers, defaultSimSellers),
		intFieldDefault("simulation.buyers", &s.Buyers, defaultSimBuyers),
		intFieldDefault("simulation.min_price", &s.MinPrice, defaultSimMinPrice),
		intFieldDefault("simulation.max_price", &s.MaxPrice, defaultSimMaxPrice),
		intFieldDefault("simulation.max_exogenous_quantity", &s.MaxExogQty, defaultSimMaxExogQty),
		fieldDefault{
			key:   "simulation.seed",
			need:  func() bool { return s.Seed == 0 },
			apply: func() { s.Seed = defaultSimSeed },
		},
		fieldDefault{
			key:   "simulation.concurrency",
			need:  func() bool { return s.Concurrency <= 0 },
			apply: func() { s.Concurrency = s.Markets },
		},
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
