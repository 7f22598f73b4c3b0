package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "patchwatch/pkg/logx"
)

func TestDetectLatest(t *testing.T) {
	s := &fakeScraper{latest: "  " + urlA + "\n"}
	item, ok := NewDetector(s, time.Second, logx.Nop()).DetectLatest(context.Background())
	require.True(t, ok)
	assert.Equal(t, urlA, item.URL)
}

func TestDetectLatestAbsorbsFailures(t *testing.T) {
	for name, s := range map[string]*fakeScraper{
		"error": {latestErr: errors.New("boom")},
		"empty": {latest: ""},
	} {
		t.Run(name, func(t *testing.T) {
			_, ok := NewDetector(s, time.Second, logx.Nop()).DetectLatest(context.Background())
			assert.False(t, ok)
		})
	}
}

func TestDetectLatestTimesOut(t *testing.T) {
	s := &fakeScraper{latest: urlA, block: make(chan struct{})}
	start := time.Now()
	_, ok := NewDetector(s, 30*time.Millisecond, logx.Nop()).DetectLatest(context.Background())
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExtract(t *testing.T) {
	s := &fakeScraper{pages: map[string]string{urlA: "raw body"}}
	f := &fakeFormatter{}
	doc, ok := NewExtractor(s, f, time.Second, logx.Nop()).Extract(context.Background(), urlA, "key")
	require.True(t, ok)
	assert.Equal(t, Document{SourceURL: urlA, Text: "formatted: raw body"}, doc)
	assert.Equal(t, []string{"key"}, f.creds)
}

func TestExtractAbsentCases(t *testing.T) {
	ctx := context.Background()

	_, err := NewExtractor(&fakeScraper{pages: map[string]string{}}, &fakeFormatter{}, time.Second, logx.Nop()).ExtractErr(ctx, urlA, "k")
	assert.ErrorIs(t, err, ErrEmptyPage)

	_, err = NewExtractor(&fakeScraper{pageErr: errors.New("404")}, &fakeFormatter{}, time.Second, logx.Nop()).ExtractErr(ctx, urlA, "k")
	assert.Error(t, err)

	f := &fakeFormatter{err: errors.New("rate limited")}
	_, ok := NewExtractor(&fakeScraper{pages: map[string]string{urlA: "x"}}, f, time.Second, logx.Nop()).Extract(ctx, urlA, "k")
	assert.False(t, ok)
}

func TestRawTextSkipsFormatter(t *testing.T) {
	s := &fakeScraper{pages: map[string]string{urlA: "  patch 4.1 notes \n"}}
	f := &fakeFormatter{}
	e := NewExtractor(s, f, time.Second, logx.Nop())

	raw, err := e.RawText(context.Background(), urlA)
	require.NoError(t, err)
	assert.Equal(t, "patch 4.1 notes", raw)
	assert.Empty(t, f.creds)

	_, err = e.RawText(context.Background(), "https://example.invalid/missing")
	assert.ErrorIs(t, err, ErrEmptyPage)
}

type panickingScraper struct{ fakeScraper }

func (*panickingScraper) LatestItemURL(context.Context) (string, error) {
	panic("selector blew up")
}

func TestDetectLatestAbsorbsPanic(t *testing.T) {
	d := NewDetector(&panickingScraper{}, time.Second, logx.Nop())
	var (
		item SourceItem
		ok   bool
	)
	require.NotPanics(t, func() { item, ok = d.DetectLatest(context.Background()) })
	assert.False(t, ok)
	assert.Zero(t, item)
}
