package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"patchwatch/internal/registry"
	kit "patchwatch/internal/transport"
)

type fakeScraper struct {
	mu        sync.Mutex
	latest    string
	latestErr error
	pages     map[string]string
	pageErr   error

	latestCalls atomic.Int32
	pageCalls   atomic.Int32
	block       chan struct{}
}

func (f *fakeScraper) setLatest(url string) {
	f.mu.Lock()
	f.latest = url
	f.mu.Unlock()
}

func (f *fakeScraper) LatestItemURL(ctx context.Context) (string, error) {
	f.latestCalls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.latestErr
}

func (f *fakeScraper) PageText(ctx context.Context, url string) (string, error) {
	f.pageCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pageErr != nil {
		return "", f.pageErr
	}
	return f.pages[url], nil
}

// fakeFormatter echoes raw text with a marker and records credentials.
type fakeFormatter struct {
	mu     sync.Mutex
	creds  []string
	err    error
	reject map[string]bool
}

func (f *fakeFormatter) Format(ctx context.Context, raw, credential string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds = append(f.creds, credential)
	if f.reject[credential] {
		return "", fmt.Errorf("status 401: %w", ErrCredentialRejected)
	}
	if f.err != nil {
		return "", f.err
	}
	return "formatted: " + raw, nil
}

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeSender struct {
	mu         sync.Mutex
	sent       map[int64][]sent
	unresolved map[int64]bool
	failSend   map[int64]bool
	resolves   map[int64]int
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		sent:       map[int64][]sent{},
		unresolved: map[int64]bool{},
		failSend:   map[int64]bool{},
		resolves:   map[int64]int{},
	}
}

func (f *fakeSender) ResolveTarget(ctx context.Context, to kit.ChatTarget) (kit.ChatTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves[to.ChatID]++
	if f.unresolved[to.ChatID] {
		return kit.ChatTarget{}, kit.ErrTargetNotFound
	}
	return to, nil
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend[to.ChatID] {
		return kit.MessageRef{}, errors.New("forbidden: bot was kicked")
	}
	f.sent[to.ChatID] = append(f.sent[to.ChatID], sent{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent[to.ChatID])}, nil
}

func (f *fakeSender) texts(chat int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent[chat]))
	for _, s := range f.sent[chat] {
		out = append(out, s.text)
	}
	return out
}

func (f *fakeSender) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, v := range f.sent {
		n += len(v)
	}
	return n
}

type fakeDests struct {
	mu sync.Mutex
	m  map[string]registry.Destination
}

func newFakeDests(ds ...registry.Destination) *fakeDests {
	f := &fakeDests{m: map[string]registry.Destination{}}
	for _, d := range ds {
		f.m[d.ID] = d
	}
	return f
}

func (f *fakeDests) All() []registry.Destination {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]registry.Destination, 0, len(f.m))
	for _, d := range f.m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeDests) Get(id string) (registry.Destination, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.m[id]
	return d, ok
}

func destination(chat int64, tag, cred string) registry.Destination {
	return registry.Destination{
		ID:         fmt.Sprint(chat),
		Target:     kit.ChatTarget{ChatID: chat},
		Tag:        tag,
		Credential: cred,
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	cycles   []CycleReport
	triggers []error
}

func (o *recordingObserver) CycleFinished(r CycleReport) {
	o.mu.Lock()
	o.cycles = append(o.cycles, r)
	o.mu.Unlock()
}

func (o *recordingObserver) TriggerFinished(id string, err error) {
	o.mu.Lock()
	o.triggers = append(o.triggers, err)
	o.mu.Unlock()
}

// gatedSender holds the first SendText until release is closed.
type gatedSender struct {
	*fakeSender
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedSender() *gatedSender {
	return &gatedSender{fakeSender: newFakeSender(), entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.fakeSender.SendText(ctx, to, text, opt)
}

type panickingDests struct{ *fakeDests }

func (panickingDests) All() []registry.Destination { panic("registry snapshot corrupted") }
