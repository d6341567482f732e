package app

import (
	"context"

	nccfg "negotiator/internal/config"
)

func buildApp(ctx context.Context, cfg *nccfg.Config) (*App, error) {
	appBuilder := provideAppBuilder(cfg)
	app, err := provideAppFromBuilder(appBuilder, ctx)
	if err != nil {
		return nil, err
	}
	return app, nil
}

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfg *nccfg.Config) *AppBuilder {
	return NewAppBuilder(cfg)
}
