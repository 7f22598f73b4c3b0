package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchwatch/internal/pipeline"
	"patchwatch/internal/registry"
	"patchwatch/internal/storage"
	kit "patchwatch/internal/transport"
	logx "patchwatch/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sent
	deleted []kit.MessageRef
	missing map[int64]bool
}

func (f *fakeMessenger) ResolveTarget(ctx context.Context, to kit.ChatTarget) (kit.ChatTarget, error) {
	if f.missing[to.ChatID] {
		return kit.ChatTarget{}, kit.ErrTargetNotFound
	}
	return to, nil
}

func (f *fakeMessenger) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeMessenger) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeMessenger) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].text
}

type fakePipeline struct {
	state   *pipeline.State
	err     error
	trigger []string
}

func (f *fakePipeline) Trigger(ctx context.Context, id string) error {
	f.trigger = append(f.trigger, id)
	return f.err
}

func (f *fakePipeline) State() *pipeline.State { return f.state }

type harness struct {
	out    *fakeMessenger
	reg    *registry.Registry
	pipe   *fakePipeline
	router *Router
}

func newHarness(t *testing.T, owners ...int64) *harness {
	t.Helper()
	h := &harness{
		out:  &fakeMessenger{missing: map[int64]bool{}},
		reg:  registry.New(storage.NewMemory(), logx.Nop()),
		pipe: &fakePipeline{state: pipeline.NewState()},
	}
	h.router = NewRouter(h.out, owners, logx.Nop())
	hs := &Handlers{Dests: h.reg, Pipeline: h.pipe}
	h.router.SetCommands(hs.Commands())
	return h
}

// exec runs one message synchronously through routing and middleware.
func (h *harness) exec(t *testing.T, from int64, chat int64, text string) error {
	t.Helper()
	msg := &kit.Message{ID: 42, ChatID: chat, FromID: from, Text: text}
	req, fn, ok := h.router.prepare(context.Background(), msg)
	if !ok {
		return nil
	}
	return fn(context.Background(), req)
}

func TestTokenizeAndFlags(t *testing.T) {
	toks := tokenize(`/setup "sk abc" @here --target=-100/7 --dry`)
	require.Equal(t, []string{"/setup", "sk abc", "@here", "--target=-100/7", "--dry"}, toks)

	pos, flags, bools := parseFlags([]string{"key", "-100123", "--target", "-5", "--dry"})
	assert.Equal(t, []string{"key", "-100123"}, pos)
	assert.Equal(t, "-5", flags["target"])
	assert.True(t, bools["dry"])

	w, ok := commandWord("/PatchNotes@watch_bot")
	assert.True(t, ok)
	assert.Equal(t, "patchnotes", w)
	_, ok = commandWord("hello")
	assert.False(t, ok)
}

func TestSetupRegistersChatAndDeletesCredential(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.exec(t, 1, -100, "/setup sk-123 @here"))

	d, ok := h.reg.Get("-100")
	require.True(t, ok)
	assert.Equal(t, "sk-123", d.Credential)
	assert.Equal(t, "@here", d.Tag)
	assert.Equal(t, kit.ChatTarget{ChatID: -100}, d.Target)
	require.Len(t, h.out.deleted, 1)
	assert.Equal(t, 42, h.out.deleted[0].MessageID)
	assert.Contains(t, h.out.lastText(), "-100")
	assert.NotContains(t, h.out.lastText(), "sk-123")
}

func TestSetupWithTarget(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.exec(t, 1, 5, "/setup sk --target=-200/9"))
	d, ok := h.reg.Get("5")
	require.True(t, ok)
	assert.Equal(t, kit.ChatTarget{ChatID: -200, ThreadID: 9}, d.Target)
	assert.Empty(t, d.Tag)

	h.out.missing[-300] = true
	require.NoError(t, h.exec(t, 1, 6, "/setup sk --target=-300"))
	_, ok = h.reg.Get("6")
	assert.False(t, ok)
	assert.Contains(t, h.out.lastText(), "cannot reach")
}

func TestSetupWithoutCredentialIsRejected(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.exec(t, 1, -100, "/setup"))
	assert.Equal(t, 0, h.reg.Len())
	assert.Contains(t, h.out.lastText(), "Setup failed")
}

func TestOwnerGating(t *testing.T) {
	h := newHarness(t, 7)
	require.NoError(t, h.exec(t, 8, -100, "/setup sk"))
	assert.Equal(t, 0, h.reg.Len())
	assert.Equal(t, "Unauthorized.", h.out.lastText())

	require.NoError(t, h.exec(t, 7, -100, "/setup sk"))
	assert.Equal(t, 1, h.reg.Len())

	// non-gated commands stay open
	h.pipe.err = pipeline.ErrNothingYet
	require.NoError(t, h.exec(t, 8, -100, "/patchnotes"))
	assert.Contains(t, h.out.lastText(), "No patch notes")
}

func TestPatchNotesReplies(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		reply string
	}{
		{name: "not configured", err: pipeline.ErrNotConfigured, reply: "not set up"},
		{name: "nothing yet", err: pipeline.ErrNothingYet, reply: "No patch notes seen yet"},
		{name: "transient", err: errors.Join(pipeline.ErrTransient, errors.New("boom")), reply: "Try again later"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.pipe.err = tt.err
			_ = h.exec(t, 1, -100, "/patchnotes")
			assert.Contains(t, h.out.lastText(), tt.reply)
			assert.Equal(t, []string{"-100"}, h.pipe.trigger)
		})
	}

	h := newHarness(t)
	require.NoError(t, h.exec(t, 1, -100, "/latest"))
	assert.Empty(t, h.out.sent)
}

func TestResetAndStatus(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.exec(t, 1, -100, "/reset"))
	assert.Contains(t, h.out.lastText(), "Nothing to reset")

	require.NoError(t, h.exec(t, 1, -100, "/setup sk @all"))
	h.pipe.state.Adopt(pipeline.SourceItem{URL: "https://forum.example/t/1"})
	require.NoError(t, h.exec(t, 1, -100, "/status"))
	assert.Contains(t, h.out.lastText(), "https://forum.example/t/1")
	assert.Contains(t, h.out.lastText(), "Destinations: 1")
	assert.Contains(t, h.out.lastText(), "@all")

	require.NoError(t, h.exec(t, 1, -100, "/reset"))
	assert.Equal(t, 0, h.reg.Len())
	assert.Contains(t, h.out.lastText(), "removed")
}

func TestUnknownCommandAndHelp(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.exec(t, 1, -100, "/nope"))
	assert.Contains(t, h.out.lastText(), "Unknown command")

	require.NoError(t, h.exec(t, 1, -100, "/help"))
	for _, name := range []string{"/setup", "/patchnotes", "/reset", "/status"} {
		assert.Contains(t, h.out.lastText(), name)
	}

	names := make([]string, 0)
	for _, c := range h.router.MenuCommands() {
		names = append(names, c.Command)
	}
	assert.Equal(t, []string{"help", "patchnotes", "reset", "setup", "status"}, names)
}

func TestDispatchLoopRunsHandlers(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 1)
	done := make(chan error, 1)
	go func() { done <- h.router.DispatchLoop(ctx, updates) }()

	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: -1, FromID: 1, Text: "/status"}}
	require.Eventually(t, func() bool { return h.out.lastText() != "" }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
