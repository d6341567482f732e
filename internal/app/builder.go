package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"negotiator/internal/agent"
	nccfg "negotiator/internal/config"
	cfgloader "negotiator/internal/config/loader"
	"negotiator/internal/forecast"
	"negotiator/internal/logger"
	"negotiator/internal/store/decisionlog"
	"negotiator/internal/store/gormstore"
	negotiationhttp "negotiator/internal/transport/http/negotiation"
)

type AppBuilder struct {
	cfg *nccfg.Config

	storesFn   func(*nccfg.Config) (*stores, error)
	tableFn    func(context.Context, nccfg.ForecastConfig, forecast.Source) (*forecast.Table, error)
	profilesFn func(path string, base *agent.Decider) (*cfgloader.ProfileLoader, error)
	serverFn   func(negotiationhttp.ServerConfig) (*negotiationhttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithStores 替换存储初始化（测试中使用临时目录或内存实现）。
func WithStores(fn func(*nccfg.Config) (*stores, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.storesFn = fn }
}

func NewAppBuilder(cfg *nccfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		storesFn:   openStores,
		tableFn:    loadForecastTable,
		profilesFn: loadProfiles,
		serverFn:   negotiationhttp.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	closers, err := setupLogging(cfg.App)
	if err != nil {
		return nil, err
	}
	app := &App{cfg: cfg, closers: closers}
	fail := func(err error) (*App, error) {
		app.Close()
		return nil, err
	}

	st, err := b.storesFn(cfg)
	if err != nil {
		return fail(err)
	}
	app.stores = st

	var source forecast.Source
	if st.history != nil {
		source = st.history
	}
	table, err := b.tableFn(ctx, cfg.Forecast, source)
	if err != nil {
		return fail(err)
	}

	base, err := newBaseDecider(cfg, table)
	if err != nil {
		return fail(err)
	}
	profiles, err := b.profilesFn(cfg.Strategy.ProfilesPath, base)
	if err != nil {
		return fail(err)
	}
	deciders, err := newProfileDeciders(base, profiles, cfg.Strategy.DefaultProfile)
	if err != nil {
		return fail(err)
	}

	var journal negotiationhttp.Journal
	if st.decisions != nil {
		journal = st.decisions
	}
	server, err := b.serverFn(negotiationhttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Deciders: deciders,
		Journal:  journal,
		Table:    table,
	})
	if err != nil {
		return fail(err)
	}
	app.server = server
	app.deciders = deciders
	_, defaultName, _ := deciders.Decider("")
	app.Summary = buildSummary(cfg, base, table, profiles, defaultName)
	return app, nil
}

// setupLogging 应用日志级别/格式，并按配置打开日志与决策追踪文件。
func setupLogging(cfg nccfg.AppConfig) ([]func() error, error) {
	logger.SetLevel(cfg.LogLevel)
	logger.SetFormat(cfg.LogFormat)
	var closers []func() error
	if p := strings.TrimSpace(cfg.LogPath); p != "" {
		f, err := openAppend(p)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, f))
		closers = append(closers, func() error {
			logger.SetOutput(nil)
			return f.Close()
		})
	}
	if p := strings.TrimSpace(cfg.TraceLogPath); p != "" {
		f, err := openAppend(p)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, fmt.Errorf("open trace log: %w", err)
		}
		logger.SetTraceWriter(f)
		closers = append(closers, func() error {
			logger.SetTraceWriter(nil)
			return f.Close()
		})
	}
	return closers, nil
}

type stores struct {
	history   *gormstore.GormStore
	decisions *decisionlog.DecisionLogStore
}

func (s *stores) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	// 决策日志可能借用 history 的连接，先关闭它。
	if s.decisions != nil {
		errs = append(errs, s.decisions.Close())
	}
	if s.history != nil {
		errs = append(errs, s.history.Close())
	}
	return errors.Join(errs...)
}

func openStores(cfg *nccfg.Config) (*stores, error) {
	history, err := gormstore.NewGormStore(cfg.Store.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("init history store: %w", err)
	}
	st := &stores{history: history}
	decisions, err := decisionlog.NewDecisionLogStore(cfg.Store.DecisionLogPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init decision log: %w", err)
	}
	st.decisions = decisions
	if cfg.Store.ShareConnection {
		sqlDB, err := history.SQLDB()
		if err != nil {
			st.Close()
			return nil, err
		}
		if err := decisions.UseExternalDB(sqlDB); err != nil {
			st.Close()
			return nil, fmt.Errorf("share history connection: %w", err)
		}
		logger.Infof("decision log shares the history connection (%s)", cfg.Store.HistoryPath)
	}
	return st, nil
}

// loadForecastTable 按 forecast.source 构建预测表；source=none 时返回 nil。
func loadForecastTable(ctx context.Context, cfg nccfg.ForecastConfig, history forecast.Source) (*forecast.Table, error) {
	kind, err := cfg.TableKind()
	if err != nil {
		return nil, err
	}
	var src forecast.Source
	switch cfg.Source {
	case nccfg.ForecastSourceNone, "":
		return nil, nil
	case nccfg.ForecastSourceFile:
		src = forecast.FileSource{Path: cfg.Path, PartnerLevel: cfg.PartnerLevel}
	case nccfg.ForecastSourceStore:
		if history == nil {
			return nil, fmt.Errorf("forecast.source=store but no history store is open")
		}
		src = history
	default:
		return nil, fmt.Errorf("unknown forecast.source %q", cfg.Source)
	}
	return forecast.Load(ctx, kind, src)
}

func newBaseDecider(cfg *nccfg.Config, table *forecast.Table) (*agent.Decider, error) {
	p := agent.DeciderParams{
		Strategy:    cfg.Strategy.Params(),
		Counterpart: cfg.Counterpart.Model(),
	}
	if table != nil {
		p.Table = table
	}
	d, err := agent.NewDecider(p)
	if err != nil {
		return nil, fmt.Errorf("init decider: %w", err)
	}
	return d, nil
}

// loadProfiles 在 profiles 文件存在时启用热加载；文件缺失只记录警告。
func loadProfiles(path string, base *agent.Decider) (*cfgloader.ProfileLoader, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warnf("profiles file %s not found, serving the base strategy only", path)
			return nil, nil
		}
		return nil, err
	}
	loader, err := cfgloader.NewProfileLoader(path, base.Params())
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	return loader, nil
}

func openAppend(path string) (*os.File, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
