package config

import (
	"strings"

	"negotiator/internal/forecast"
	"negotiator/internal/strategy"
	"negotiator/internal/ufun"
)

// Config 是 negotiator 的主配置载体。
type Config struct {
	App         AppConfig         `toml:"app"`
	Strategy    StrategyConfig    `toml:"strategy"`
	Counterpart CounterpartConfig `toml:"counterpart"`
	Forecast    ForecastConfig    `toml:"forecast"`
	Store       StoreConfig       `toml:"store"`
	Simulation  SimulationConfig  `toml:"simulation"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	// TraceLogPath 非空时写入决策追踪（frontier/Nash/target）。
	TraceLogPath string `toml:"trace_log_path"`
	HTTPAddr     string `toml:"http_addr"`
}

// StrategyConfig 是默认策略参数；profiles 文件可按名称覆盖。
type StrategyConfig struct {
	Variant            string  `toml:"variant"`
	AspirationExponent float64 `toml:"aspiration_exponent"`
	NashBalance        float64 `toml:"nash_balance"`
	GridMaxQuantity    int     `toml:"grid_max_quantity"`
	ProfilesPath       string  `toml:"profiles_path"`
	DefaultProfile     string  `toml:"default_profile"`
}

func (s StrategyConfig) Params() strategy.Params {
	return strategy.Params{
		Variant:            strategy.Variant(strings.ToLower(strings.TrimSpace(s.Variant))),
		AspirationExponent: s.AspirationExponent,
		NashBalance:        s.NashBalance,
		GridMaxQuantity:    s.GridMaxQuantity,
	}
}

// CounterpartConfig 描述对手方效用模型所用的成本假设。
type CounterpartConfig struct {
	ExpectedQuantitySeller float64 `toml:"expected_quantity_seller"`
	ExpectedQuantityBuyer  float64 `toml:"expected_quantity_buyer"`
	ProductionCostStep     float64 `toml:"production_cost_step"`
	DisposalCost           float64 `toml:"disposal_cost"`
	ShortfallPenalty       float64 `toml:"shortfall_penalty"`
	SellerInputUnitPrice   float64 `toml:"seller_input_unit_price"`
	BuyerOutputUnitPrice   float64 `toml:"buyer_output_unit_price"`
	NLines                 int     `toml:"n_lines"`
}

func (c CounterpartConfig) Model() ufun.CounterpartConfig {
	return ufun.CounterpartConfig{
		ExpectedQuantitySeller: c.ExpectedQuantitySeller,
		ExpectedQuantityBuyer:  c.ExpectedQuantityBuyer,
		ProductionCostStep:     c.ProductionCostStep,
		DisposalCost:           c.DisposalCost,
		ShortfallPenalty:       c.ShortfallPenalty,
		SellerInputUnitPrice:   c.SellerInputUnitPrice,
		BuyerOutputUnitPrice:   c.BuyerOutputUnitPrice,
		NLines:                 c.NLines,
	}
}

// Forecast table sources.
const (
	ForecastSourceNone  = "none"
	ForecastSourceFile  = "file"
	ForecastSourceStore = "store"
)

type ForecastConfig struct {
	Kind   string `toml:"kind"`
	Source string `toml:"source"`
	// Path 为 CSV 文件（可为 .gz/.zst），source=file 时必填。
	Path string `toml:"path"`
	// PartnerLevel 表示 CSV 的 level 列记录的是对手角色。
	PartnerLevel bool `toml:"partner_level"`
}

func (f ForecastConfig) TableKind() (forecast.Kind, error) {
	return forecast.ParseKind(f.Kind)
}

type StoreConfig struct {
	HistoryPath     string `toml:"history_path"`
	DecisionLogPath string `toml:"decision_log_path"`
	// ShareConnection 让决策日志复用 history 的 SQLite 连接（同一文件时避免锁冲突）。
	ShareConnection bool `toml:"share_connection"`
}

// SimulationConfig 控制离线自博弈数据采集。
type SimulationConfig struct {
	Markets     int    `toml:"markets"`
	Rounds      int    `toml:"rounds"`
	NSteps      int    `toml:"n_steps"`
	Sellers     int    `toml:"sellers"`
	Buyers      int    `toml:"buyers"`
	MinPrice    int    `toml:"min_price"`
	MaxPrice    int    `toml:"max_price"`
	MaxExogQty  int    `toml:"max_exogenous_quantity"`
	Seed        int64  `toml:"seed"`
	Concurrency int    `toml:"concurrency"`
	OutputCSV   string `toml:"output_csv"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
