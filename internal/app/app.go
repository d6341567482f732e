package app

import (
	"context"
	"errors"
	"fmt"

	nccfg "negotiator/internal/config"
	"negotiator/internal/logger"
	negotiationhttp "negotiator/internal/transport/http/negotiation"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化存储与决策器→启动 HTTP 服务。
type App struct {
	cfg      *nccfg.Config
	stores   *stores
	server   *negotiationhttp.Server
	deciders *profileDeciders
	closers  []func() error
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *nccfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildApp(context.Background(), cfg)
}

// Run 启动 HTTP 服务，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.server == nil {
		return fmt.Errorf("http server not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("negotiation http server error: %w", err)
		}
		return nil
	})
	err := group.Wait()
	if cerr := a.Close(); cerr != nil {
		logger.Warnf("close app: %v", cerr)
	}
	return err
}

// Server exposes the HTTP server (for tests and embedding).
func (a *App) Server() *negotiationhttp.Server {
	if a == nil {
		return nil
	}
	return a.server
}

// Close 释放存储与日志文件；可重复调用。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.stores != nil {
		errs = append(errs, a.stores.Close())
		a.stores = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
