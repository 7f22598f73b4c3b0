package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchwatch/internal/commands"
	"patchwatch/internal/config"
	"patchwatch/internal/pipeline"
	"patchwatch/internal/registry"
	"patchwatch/internal/task/scheduler"
	logx "patchwatch/pkg/logx"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Telegram: config.TelegramConfig{Token: "t", GroupLog: " -100123 "},
		Source:   config.SourceConfig{URL: "https://forum.example/notes"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestMapStorageConfig(t *testing.T) {
	cfg := baseConfig()
	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "file", sc.Driver)
	assert.Equal(t, config.DefaultStoragePath, sc.Path)

	cfg.Storage = &config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "2s"}
	sc, err = mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, 2*time.Second, sc.BusyTimeout)

	cfg.Storage = &config.StorageConfig{Driver: "sqlite"}
	_, err = mapStorageConfig(cfg)
	require.Error(t, err)

	cfg.Storage = &config.StorageConfig{Driver: "redis", Path: "x"}
	_, err = mapStorageConfig(cfg)
	require.Error(t, err)

	sc, err = mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "memory", sc.Driver)
}

func TestMapSections(t *testing.T) {
	cfg := baseConfig()
	cfg.Source.FetchTimeout = "15s"
	cfg.Generation.Timeout = "bogus"

	fc, err := mapForumConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, fc.FetchTimeout)
	assert.Equal(t, config.DefaultItemSelector, fc.ItemSelector)

	_, err = mapGenerateConfig(cfg)
	require.Error(t, err)

	pc := mapPipelineConfig(cfg)
	assert.Equal(t, config.DefaultMaxChunkLen, pc.MaxChunkLen)

	assert.Equal(t, int64(-100123), logChatID(cfg))
	cfg.Telegram.GroupLog = ""
	assert.Equal(t, int64(0), logChatID(cfg))

	assert.False(t, mapStatusConfig(cfg).Enabled)
	cfg.HTTP = &config.HTTPConfig{Enabled: true, Addr: "127.0.0.1:9"}
	assert.Equal(t, "127.0.0.1:9", mapStatusConfig(cfg).Addr)
}

func TestRunStep(t *testing.T) {
	log := logx.Nop()
	require.NoError(t, runStep(context.Background(), log, "ok", time.Second, func(context.Context) error { return nil }))

	boom := errors.New("boom")
	require.ErrorIs(t, runStep(context.Background(), log, "err", time.Second, func(context.Context) error { return boom }), boom)

	err := runStep(context.Background(), log, "panic", time.Second, func(context.Context) error { panic("x") })
	require.Error(t, err)

	release := make(chan struct{})
	defer close(release)
	err = runStep(context.Background(), log, "slow", 20*time.Millisecond, func(context.Context) error {
		<-release
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestApplyConfigReschedulesPoll(t *testing.T) {
	cfg := baseConfig()
	logs, root := logx.New(mapLogConfig(cfg), nil)
	defer logs.Close()

	reg := registry.New(nil, root)
	disp := pipeline.NewDispatcher(nil, nil, reg, nil, pipeline.NewState(), mapPipelineConfig(cfg), root)
	a := &App{
		log:    root,
		logs:   logs,
		reg:    reg,
		disp:   disp,
		sched:  scheduler.New(scheduler.Config{}, root),
		router: commands.NewRouter(nil, nil, root),
	}
	require.NoError(t, a.schedulePoll(cfg.Poll.Schedule))

	next := *cfg
	next.Poll.Schedule = "5m"
	next.Telegram.OwnerUserIDs = []int64{1}
	a.applyConfig(cfg, &next)

	jobs := a.sched.Snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, "@every 5m0s", jobs[0].Spec)

	bad := next
	bad.Poll.Schedule = "not a schedule"
	a.applyConfig(&next, &bad)
	assert.Equal(t, "@every 5m0s", a.sched.Snapshot()[0].Spec)

	snap := a.snapshot()
	assert.Equal(t, 0, snap.Destinations)
	assert.Len(t, snap.Jobs, 1)
	assert.Empty(t, snap.Latest)
}
