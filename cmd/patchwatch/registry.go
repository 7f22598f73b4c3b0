package main

import (
	"context"
	"errors"

	"patchwatch/internal/app"
	"patchwatch/internal/config"
	"patchwatch/internal/registry"
	logx "patchwatch/pkg/logx"
)

type registryView interface {
	All() []registry.Destination
	Get(id string) (registry.Destination, bool)
	Remove(ctx context.Context, id string) error
}

func withRegistry(ctx context.Context, f *rootFlags, fn func(registryView) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.NewConfigManager(f.config).Parse()
	if err != nil {
		return err
	}
	reg, err := app.OpenRegistry(cfg, logx.NewConsole("warn"))
	if err != nil {
		return err
	}
	if err := reg.Load(ctx); err != nil {
		return errors.Join(err, reg.Close())
	}
	return errors.Join(fn(reg), reg.Close())
}
