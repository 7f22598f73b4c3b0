package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"patchwatch/internal/pipeline"
	"patchwatch/internal/registry"
	kit "patchwatch/internal/transport"
	logx "patchwatch/pkg/logx"
)

// Destinations is the registry surface the handlers mutate.
type Destinations interface {
	Put(ctx context.Context, d registry.Destination) error
	Remove(ctx context.Context, id string) error
	Get(id string) (registry.Destination, bool)
	Len() int
}

// Pipeline is the dispatcher surface behind /patchnotes and /status.
type Pipeline interface {
	Trigger(ctx context.Context, destinationID string) error
	State() *pipeline.State
}

// Handlers implements the patch-notes command set.
type Handlers struct {
	Dests    Destinations
	Pipeline Pipeline
	// TriggerTimeout bounds one on-demand fetch+format+send.
	TriggerTimeout time.Duration
}

const setupUsage = "/setup <credential> [tag] [--target=<chat_id>[/<thread_id>]]"

// Commands returns the command registry served by h.
func (h *Handlers) Commands() []Command {
	triggerTimeout := h.TriggerTimeout
	if triggerTimeout <= 0 {
		triggerTimeout = 3 * time.Minute
	}
	return []Command{
		{
			Name:        "setup",
			Description: "register this chat for patch notes",
			Usage:       setupUsage,
			Access:      AccessOwnerOnly,
			Timeout:     30 * time.Second,
			Handle:      h.setup,
		},
		{
			Name:        "patchnotes",
			Aliases:     []string{"latest"},
			Description: "send the latest patch notes here",
			Usage:       "/patchnotes",
			Timeout:     triggerTimeout,
			Handle:      h.patchNotes,
		},
		{
			Name:        "reset",
			Description: "stop patch notes for this chat",
			Usage:       "/reset",
			Access:      AccessOwnerOnly,
			Timeout:     30 * time.Second,
			Handle:      h.reset,
		},
		{
			Name:        "status",
			Description: "show watcher status",
			Usage:       "/status",
			Timeout:     10 * time.Second,
			Handle:      h.status,
		},
	}
}

// destinationID keys a destination by the chat that registered it.
func destinationID(req *Request) string {
	return strconv.FormatInt(req.Chat.ChatID, 10)
}

func (h *Handlers) setup(ctx context.Context, req *Request) error {
	// The credential is sensitive; drop the message whatever happens next.
	if req.Message != nil {
		ref := kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, MessageID: req.Message.ID}
		if err := req.Out.DeleteMessage(ctx, ref); err != nil {
			req.Log.Debug("could not delete setup message", logx.Err(err))
		}
	}

	var credential, tag string
	if len(req.Args) > 0 {
		credential = req.Args[0]
	}
	if len(req.Args) > 1 {
		tag = strings.Join(req.Args[1:], " ")
	}

	target := req.Chat
	if raw, ok := req.Flags["target"]; ok {
		t, err := kit.ParseChatTarget(raw)
		if err != nil {
			return req.Reply(ctx, fmt.Sprintf("Invalid target: %v\nUsage: %s", err, setupUsage))
		}
		resolved, err := req.Out.ResolveTarget(ctx, t)
		if err != nil {
			if errors.Is(err, kit.ErrTargetNotFound) {
				return req.Reply(ctx, "I cannot reach chat "+t.String()+". Add me there first.")
			}
			return req.Reply(ctx, "Could not check the target chat. Try again later.")
		}
		target = resolved
	}

	err := h.Dests.Put(ctx, registry.Destination{
		ID:         destinationID(req),
		Target:     target,
		Tag:        tag,
		Credential: credential,
	})
	if err != nil {
		var ce *registry.ConfigError
		if errors.As(err, &ce) {
			return req.Reply(ctx, fmt.Sprintf("Setup failed: %s.\nUsage: %s", ce.Reason, setupUsage))
		}
		_ = req.Reply(ctx, "Setup failed while saving. Try again later.")
		return err
	}

	msg := "Patch notes will be posted to " + target.String()
	if tag != "" {
		msg += " with tag " + tag
	}
	return req.Reply(ctx, msg+".")
}

func (h *Handlers) patchNotes(ctx context.Context, req *Request) error {
	err := h.Pipeline.Trigger(ctx, destinationID(req))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pipeline.ErrNotConfigured):
		return req.Reply(ctx, "This chat is not set up yet. Use "+setupUsage)
	case errors.Is(err, pipeline.ErrNothingYet):
		return req.Reply(ctx, "No patch notes seen yet. Try again after the next check.")
	default:
		_ = req.Reply(ctx, "Could not fetch the patch notes right now. Try again later.")
		return err
	}
}

func (h *Handlers) reset(ctx context.Context, req *Request) error {
	id := destinationID(req)
	if _, ok := h.Dests.Get(id); !ok {
		return req.Reply(ctx, "Nothing to reset; this chat is not set up.")
	}
	if err := h.Dests.Remove(ctx, id); err != nil {
		_ = req.Reply(ctx, "Reset failed while saving. Try again later.")
		return err
	}
	return req.Reply(ctx, "Configuration removed. This chat will no longer receive patch notes.")
}

func (h *Handlers) status(ctx context.Context, req *Request) error {
	var b strings.Builder
	st := h.Pipeline.State()
	if item, ok := st.Latest(); ok {
		fmt.Fprintf(&b, "Latest: %s\nSeen at: %s\n", item.URL, st.AdoptedAt().Format(time.RFC3339))
	} else {
		b.WriteString("Latest: none yet\n")
	}
	if last, ok := st.LastCycle(); ok {
		fmt.Fprintf(&b, "Last check: %s (%s ago)\n", last.Outcome, time.Since(last.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(&b, "Destinations: %d\n", h.Dests.Len())
	if d, ok := h.Dests.Get(destinationID(req)); ok {
		b.WriteString("This chat: posting to " + d.Target.String())
		if d.Tag != "" {
			b.WriteString(" with tag " + d.Tag)
		}
	} else {
		b.WriteString("This chat: not set up")
	}
	return req.Reply(ctx, b.String())
}
