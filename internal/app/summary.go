package app

import (
	"fmt"
	"strings"

	"negotiator/internal/agent"
	nccfg "negotiator/internal/config"
	cfgloader "negotiator/internal/config/loader"
	"negotiator/internal/forecast"
	"negotiator/internal/strategy"
)

type StartupSummary struct {
	HTTPAddr string
	Strategy StrategySummary
	Forecast ForecastSummary
	Store    StoreSummary
	Profiles []ProfileSummary
}

type StrategySummary struct {
	Variant            string
	AspirationExponent float64
	NashBalance        float64
	GridMaxQuantity    int
}

type ForecastSummary struct {
	Source string
	Kind   string
	Rows   int
	Keys   int
	Misses int
}

type StoreSummary struct {
	HistoryPath     string
	DecisionLogPath string
	Shared          bool
}

type ProfileSummary struct {
	Name        string
	Description string
	Default     bool
	Strategy    StrategySummary
}

func buildSummary(cfg *nccfg.Config, base *agent.Decider, table *forecast.Table, profiles *cfgloader.ProfileLoader, defaultName string) *StartupSummary {
	s := &StartupSummary{
		HTTPAddr: cfg.App.HTTPAddr,
		Strategy: strategySummary(base.Params()),
		Forecast: ForecastSummary{Source: cfg.Forecast.Source, Kind: cfg.Forecast.Kind},
		Store: StoreSummary{
			HistoryPath:     cfg.Store.HistoryPath,
			DecisionLogPath: cfg.Store.DecisionLogPath,
			Shared:          cfg.Store.ShareConnection,
		},
	}
	if table != nil {
		s.Forecast.Kind = string(table.Kind())
		s.Forecast.Rows = table.Rows()
		s.Forecast.Keys = table.Len()
		s.Forecast.Misses = table.Misses()
	}
	if profiles != nil {
		snap := profiles.Snapshot()
		for _, name := range snap.Names() {
			def := snap.Profiles[name]
			p := def.StrategyParams()
			s.Profiles = append(s.Profiles, ProfileSummary{
				Name:        name,
				Description: def.Description,
				Default:     name == defaultName,
				Strategy:    strategySummary(p),
			})
		}
	}
	return s
}

func strategySummary(p strategy.Params) StrategySummary {
	return StrategySummary{
		Variant:            string(p.Variant),
		AspirationExponent: p.AspirationExponent,
		NashBalance:        p.NashBalance,
		GridMaxQuantity:    p.GridMaxQuantity,
	}
}

func (s StrategySummary) String() string {
	return fmt.Sprintf("%s e=%.2f nash=%.2f grid=%d", s.Variant, s.AspirationExponent, s.NashBalance, s.GridMaxQuantity)
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[服务 (SERVICE)]")
	fmt.Printf("  HTTP 地址: %s\n", s.HTTPAddr)
	fmt.Println()

	fmt.Println("[基础策略 (BASE STRATEGY)]")
	fmt.Printf("  %s\n", s.Strategy)
	fmt.Println()

	fmt.Println("[预测表 (FORECAST TABLE)]")
	fmt.Printf("  来源: %s\n", s.Forecast.Source)
	fmt.Printf("  类型: %s\n", s.Forecast.Kind)
	if s.Forecast.Rows > 0 {
		fmt.Printf("  记录: %d (键 %d, 未命中 %d)\n", s.Forecast.Rows, s.Forecast.Keys, s.Forecast.Misses)
	}
	fmt.Println()

	fmt.Println("[存储 (STORAGE)]")
	fmt.Printf("  历史数据: %s\n", s.Store.HistoryPath)
	fmt.Printf("  决策日志: %s", s.Store.DecisionLogPath)
	if s.Store.Shared {
		fmt.Print(" (共享连接)")
	}
	fmt.Println()
	fmt.Println()

	fmt.Println("[策略配置组 (PROFILES)]")
	if len(s.Profiles) == 0 {
		fmt.Println("  (无配置，仅使用基础策略)")
	}
	for _, p := range s.Profiles {
		mark := ""
		if p.Default {
			mark = " *"
		}
		fmt.Printf("  > %s%s: %s\n", p.Name, mark, p.Strategy)
		if p.Description != "" {
			fmt.Printf("    %s\n", p.Description)
		}
	}
	fmt.Println(strings.Repeat("=", 80))
}
