// Package sim 运行自博弈市场：卖方组与买方组在每个回合内两两交替出价，
// 并把谈判结果作为历史数据记录下来，供预测表训练。
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"negotiator/internal/agent"
	"negotiator/internal/forecast"
	"negotiator/internal/logger"
	"negotiator/internal/store"

	"golang.org/x/sync/errgroup"
)

// Params 描述一次模拟的规模与随机环境。
type Params struct {
	Markets     int   `json:"markets"`
	Rounds      int   `json:"rounds"`
	NSteps      int   `json:"n_steps"`
	Sellers     int   `json:"sellers"`
	Buyers      int   `json:"buyers"`
	MinPrice    int   `json:"min_price"`
	MaxPrice    int   `json:"max_price"`
	MaxExogQty  int   `json:"max_exog_qty"`
	Seed        int64 `json:"seed"`
	Concurrency int   `json:"concurrency"`
}

func (p Params) validate() error {
	switch {
	case p.Markets <= 0:
		return fmt.Errorf("markets must be > 0")
	case p.Rounds <= 0:
		return fmt.Errorf("rounds must be > 0")
	case p.NSteps <= 0:
		return fmt.Errorf("n_steps must be > 0")
	case p.Sellers <= 0 || p.Buyers <= 0:
		return fmt.Errorf("sellers and buyers must be > 0")
	case p.MinPrice < 0 || p.MaxPrice < p.MinPrice:
		return fmt.Errorf("invalid price range [%d,%d]", p.MinPrice, p.MaxPrice)
	case p.MaxExogQty <= 0:
		return fmt.Errorf("max_exog_qty must be > 0")
	}
	return nil
}

// Stats 汇总一次模拟的结果。
type Stats struct {
	RunID        string `json:"run_id,omitempty"`
	Markets      int    `json:"markets"`
	Rounds       int    `json:"rounds"`
	Negotiations int    `json:"negotiations"`
	Agreements   int    `json:"agreements"`
	Volume       int    `json:"volume"`
	Turnover     int    `json:"turnover"`
	// Need is the exogenous quantity every agent set out to cover; Unmet is
	// what was left uncovered when the rounds ended.
	Need    int           `json:"need"`
	Unmet   int           `json:"unmet"`
	Records int           `json:"records"`
	Elapsed time.Duration `json:"elapsed"`
}

// AgreementRate is the share of negotiations that ended in a contract.
func (s Stats) AgreementRate() float64 {
	if s.Negotiations == 0 {
		return 0
	}
	return float64(s.Agreements) / float64(s.Negotiations)
}

// MeanPrice is the volume-weighted unit price of all contracts.
func (s Stats) MeanPrice() float64 {
	if s.Volume == 0 {
		return 0
	}
	return float64(s.Turnover) / float64(s.Volume)
}

func (s *Stats) merge(o Stats) {
	s.Negotiations += o.Negotiations
	s.Agreements += o.Agreements
	s.Volume += o.Volume
	s.Turnover += o.Turnover
	s.Need += o.Need
	s.Unmet += o.Unmet
}

type SimulatorConfig struct {
	Params  Params
	Decider *agent.Decider
	// History 接收完成的数据点；为空时只在内存中收集。
	History agent.HistorySink
	// Runs 记录采集批次（可选）。
	Runs store.RunRepository
}

// Simulator 以 errgroup 并发运行多个相互独立的市场。
type Simulator struct {
	params  Params
	decider *agent.Decider
	history agent.HistorySink
	runs    store.RunRepository
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Decider == nil {
		return nil, fmt.Errorf("decider 不能为空")
	}
	if err := cfg.Params.validate(); err != nil {
		return nil, fmt.Errorf("simulation params: %w", err)
	}
	if cfg.Params.Concurrency <= 0 {
		cfg.Params.Concurrency = cfg.Params.Markets
	}
	return &Simulator{params: cfg.Params, decider: cfg.Decider, history: cfg.History, runs: cfg.Runs}, nil
}

// Run plays every market to completion and returns the aggregate statistics
// together with every datapoint recorded.
func (s *Simulator) Run(ctx context.Context) (Stats, []forecast.Record, error) {
	start := time.Now()
	stats := Stats{Markets: s.params.Markets, Rounds: s.params.Rounds}
	if s.runs != nil {
		runID, err := s.runs.StartRun(ctx, "simulate", s.params)
		if err != nil {
			return stats, nil, fmt.Errorf("start run: %w", err)
		}
		stats.RunID = runID
	}
	collector := NewCollector(s.history)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.params.Concurrency)
	for m := 0; m < s.params.Markets; m++ {
		idx := m
		g.Go(func() error {
			mk, err := newMarket(idx, s.params, s.decider, collector)
			if err != nil {
				return err
			}
			res, err := mk.run(gctx)
			if err != nil {
				return fmt.Errorf("market %d: %w", idx, err)
			}
			mu.Lock()
			stats.merge(res)
			mu.Unlock()
			logger.Debugf("market %d done: negotiations=%d agreements=%d", idx, res.Negotiations, res.Agreements)
			return nil
		})
	}
	runErr := g.Wait()

	records := collector.Records()
	stats.Records = len(records)
	stats.Elapsed = time.Since(start)
	if s.runs != nil {
		if err := s.runs.FinishRun(context.WithoutCancel(ctx), stats.RunID, stats.Records, runErr); err != nil {
			logger.Warnf("finish run %s: %v", stats.RunID, err)
		}
	}
	if runErr != nil {
		return stats, records, runErr
	}
	logger.Infof("simulation finished: markets=%d rounds=%d negotiations=%d agreements=%d records=%d in %s",
		stats.Markets, stats.Rounds, stats.Negotiations, stats.Agreements, stats.Records, stats.Elapsed.Round(time.Millisecond))
	return stats, records, nil
}

// Collector 在内存中累积数据点，并转发给下游 sink。
type Collector struct {
	next agent.HistorySink

	mu      sync.Mutex
	records []forecast.Record
}

func NewCollector(next agent.HistorySink) *Collector {
	return &Collector{next: next}
}

func (c *Collector) Append(ctx context.Context, records []forecast.Record) error {
	c.mu.Lock()
	c.records = append(c.records, records...)
	c.mu.Unlock()
	if c.next == nil {
		return nil
	}
	return c.next.Append(ctx, records)
}

func (c *Collector) Records() []forecast.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]forecast.Record, len(c.records))
	copy(out, c.records)
	return out
}
