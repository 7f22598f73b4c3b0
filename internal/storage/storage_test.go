package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "patchwatch/pkg/logx"
)

func strPtr(s string) *string { return &s }

func openDrivers(t *testing.T) map[string]func(t *testing.T, dir string) Store {
	t.Helper()
	return map[string]func(t *testing.T, dir string) Store{
		"file": func(t *testing.T, dir string) Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "destinations.json")}, logx.Nop())
			require.NoError(t, err)
			return st
		},
		"sqlite": func(t *testing.T, dir string) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "patchwatch.db")}, logx.Nop())
			require.NoError(t, err)
			return st
		},
	}
}

func TestDestinationsRoundTripAcrossReopen(t *testing.T) {
	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			want := map[string]DestinationRecord{
				"-100200": {ChatID: -100200, ThreadID: 7, Tag: strPtr("@patchfans"), Credential: "sk-a"},
				"-100300": {ChatID: -100300, Credential: "sk-b"},
			}

			st := open(t, dir)
			got, err := st.LoadDestinations(ctx)
			require.NoError(t, err)
			assert.Empty(t, got)

			require.NoError(t, st.SaveDestinations(ctx, want))
			require.NoError(t, st.Close())

			st = open(t, dir)
			defer st.Close()
			got, err = st.LoadDestinations(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			assert.Nil(t, got["-100300"].Tag)
		})
	}
}

func TestSaveReplacesPreviousState(t *testing.T) {
	for name, open := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t, t.TempDir())
			defer st.Close()

			require.NoError(t, st.SaveDestinations(ctx, map[string]DestinationRecord{
				"a": {ChatID: 1, Credential: "x"},
				"b": {ChatID: 2, Credential: "y"},
			}))
			require.NoError(t, st.SaveDestinations(ctx, map[string]DestinationRecord{
				"b": {ChatID: 2, Credential: "z"},
			}))

			got, err := st.LoadDestinations(ctx)
			require.NoError(t, err)
			assert.Equal(t, map[string]DestinationRecord{"b": {ChatID: 2, Credential: "z"}}, got)
		})
	}
}

func TestFileStoreLayout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "destinations.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	require.NoError(t, st.SaveDestinations(ctx, map[string]DestinationRecord{
		"42": {ChatID: 42, Credential: "sk"},
	}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"42":{"chat_id":42,"thread_id":0,"tag":null,"credential":"sk"}}`, string(b))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a save")
}

func TestFileStoreRejectsCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "destinations.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	_, err = st.LoadDestinations(context.Background())
	require.Error(t, err)
}

func TestClosedStoreRefusesWrites(t *testing.T) {
	st := NewMemory()
	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.SaveDestinations(context.Background(), nil), ErrClosed)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	require.Error(t, err)
}
