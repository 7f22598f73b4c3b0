// Package commands routes chat messages to command handlers.
package commands

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	kit "patchwatch/internal/transport"
	logx "patchwatch/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessOwnerOnly restricts a command to the configured owners. With no
	// owners configured everyone may use it.
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// Messenger is the slice of the transport adapter commands use.
type Messenger interface {
	ResolveTarget(ctx context.Context, to kit.ChatTarget) (kit.ChatTarget, error)
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	DeleteMessage(ctx context.Context, ref kit.MessageRef) error
}

type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	// Args are positionals; Raw is every token after the command word.
	Args  []string
	Raw   []string
	Flags map[string]string
	Bools map[string]bool
	ReqID string
	Log   logx.Logger
	Out   Messenger
}

// Reply sends text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Out.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type Router struct {
	mu      sync.RWMutex
	byName  map[string]*Command
	ordered []*Command
	owners  []int64

	log  logx.Logger
	out  Messenger
	jobs chan func()
}

func NewRouter(out Messenger, owners []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		byName: map[string]*Command{},
		owners: append([]int64(nil), owners...),
		log:    log.With(logx.String("comp", "commands")),
		out:    out,
		jobs:   make(chan func(), 256),
	}
}

// SetOwners swaps the owner list; safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

// SetCommands replaces the registry. A help command is always added.
func (r *Router) SetCommands(cmds []Command) {
	cmds = append(append([]Command(nil), cmds...), Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "show commands",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText())
		},
	})

	byName := map[string]*Command{}
	ordered := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := &cmds[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = c
		ordered = append(ordered, c)
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				if _, taken := byName[a]; !taken {
					byName[a] = c
				}
			}
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	r.mu.Lock()
	r.byName, r.ordered = byName, ordered
	r.mu.Unlock()
}

// MenuCommands lists the registry for the chat client's command menu.
func (r *Router) MenuCommands() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.ordered, func(c *Command, _ int) kit.BotCommand {
		return kit.BotCommand{Command: c.Name, Description: c.Description}
	})
}

func (r *Router) helpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lines := []string{"Commands:"}
	for _, c := range r.ordered {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		if c.Description != "" {
			usage += " - " + c.Description
		}
		lines = append(lines, usage)
	}
	return strings.Join(lines, "\n")
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Handlers run on a bounded worker pool.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(2, runtime.NumCPU())
	r.log.Info("dispatcher started", logx.Int("workers", workers), logx.Int("queue_cap", cap(r.jobs)))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-r.jobs:
					r.runJob(idx, job)
				}
			}
		}(i)
	}
	defer func() {
		wg.Wait()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in command worker", logx.Int("worker", worker), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// Route parses one update and queues the matching handler.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	req, h, ok := r.prepare(ctx, up.Message)
	if !ok {
		return
	}
	select {
	case r.jobs <- func() { _ = h(ctx, req) }:
	default:
		_ = req.Reply(ctx, "Busy, try again in a moment.")
	}
}

func (r *Router) prepare(ctx context.Context, msg *kit.Message) (*Request, HandlerFunc, bool) {
	parts := tokenize(msg.Text)
	if len(parts) == 0 {
		return nil, nil, false
	}
	word, ok := commandWord(parts[0])
	if !ok {
		return nil, nil, false
	}

	r.mu.RLock()
	cmd := r.byName[word]
	owners := r.owners
	r.mu.RUnlock()

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if cmd == nil {
		_, _ = r.out.SendText(ctx, chat, "Unknown command. Try /help", nil)
		return nil, nil, false
	}
	if cmd.Access == AccessOwnerOnly && len(owners) > 0 && !lo.Contains(owners, msg.FromID) {
		_, _ = r.out.SendText(ctx, chat, "Unauthorized.", nil)
		return nil, nil, false
	}

	raw := parts[1:]
	pos, flags, bools := parseFlags(raw)
	rid := newReqID()
	req := &Request{
		Message: msg,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    pos,
		Raw:     raw,
		Flags:   flags,
		Bools:   bools,
		ReqID:   rid,
		Out:     r.out,
		Log: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int("thread_id", msg.ThreadID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	return req, Chain(cmd.Handle, recoverPanics(), requestLog(), withTimeout(cmd.Timeout)), true
}
