package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"patchwatch/internal/registry"
	kit "patchwatch/internal/transport"
	logx "patchwatch/pkg/logx"
)

// DeliveryStatus is the per-destination outcome of a fan-out.
type DeliveryStatus string

const (
	DeliveryOK         DeliveryStatus = "delivered"
	DeliveryUnresolved DeliveryStatus = "unresolved"
	DeliveryFailed     DeliveryStatus = "failed"
)

type DestinationResult struct {
	ID     string         `json:"id"`
	Status DeliveryStatus `json:"status"`
	Sent   int            `json:"sent"`
	Error  string         `json:"error,omitempty"`
}

// HeaderKind selects the header wording.
type HeaderKind int

const (
	HeaderNew HeaderKind = iota
	HeaderLatest
)

// Header renders the first message sent to a destination:
//
//	<tag> New <title> patch notes:
//	<url>
func Header(kind HeaderKind, tag, title, url string) string {
	word := "New"
	if kind == HeaderLatest {
		word = "Latest"
	}
	noun := "patch notes"
	if t := strings.TrimSpace(title); t != "" {
		noun = t + " " + noun
	}
	line := word + " " + noun + ":"
	if t := strings.TrimSpace(tag); t != "" {
		line = t + " " + line
	}
	return line + "\n" + url
}

// deliverer sends one header plus all chunks to a single destination.
// Sends share one limiter across destinations. Deliveries to the same chat
// target run one at a time so their message sequences never interleave.
type deliverer struct {
	sender  Sender
	limiter *rate.Limiter
	opt     *kit.SendOptions
	locks   *keyedLock
	log     logx.Logger
}

func (d *deliverer) deliver(ctx context.Context, dest registry.Destination, header string, chunks []string) (res DestinationResult) {
	res = DestinationResult{ID: dest.ID}
	log := d.log.With(logx.String("destination", dest.ID))
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Status = DeliveryFailed
			res.Error = fmt.Sprintf("panic: %v", r)
			log.Error("delivery panicked", logx.Any("panic", r))
		}
	}()

	unlock, err := d.locks.lock(ctx, dest.Target.String())
	if err != nil {
		res.Status, res.Error = DeliveryFailed, err.Error()
		return res
	}
	defer unlock()

	to, err := d.sender.ResolveTarget(ctx, dest.Target)
	if err != nil {
		res.Status, res.Error = DeliveryUnresolved, err.Error()
		log.Warn("destination target unresolved; skipping", logx.String("target", dest.Target.String()), logx.Err(err))
		return res
	}

	msgs := append([]string{header}, chunks...)
	for i, text := range msgs {
		if err := d.wait(ctx); err != nil {
			res.Status, res.Error = DeliveryFailed, err.Error()
			return res
		}
		if _, err := d.sender.SendText(ctx, to, text, d.opt); err != nil {
			res.Status, res.Error = DeliveryFailed, err.Error()
			log.Warn("delivery send failed",
				logx.String("target", to.String()),
				logx.Int("part", i),
				logx.Int("parts", len(msgs)),
				logx.Err(err),
			)
			return res
		}
		res.Sent++
	}

	res.Status = DeliveryOK
	log.Info("delivered", logx.String("target", to.String()), logx.Int("messages", res.Sent), logx.Duration("took", time.Since(started)))
	return res
}

func (d *deliverer) wait(ctx context.Context) error {
	if d.limiter == nil {
		return ctx.Err()
	}
	return d.limiter.Wait(ctx)
}

// keyedLock is a set of context-aware mutexes created on demand.
type keyedLock struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{slots: map[string]*lockSlot{}}
}

func (k *keyedLock) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			k.release(key, s)
		}, nil
	case <-ctx.Done():
		k.release(key, s)
		return nil, ctx.Err()
	}
}

func (k *keyedLock) release(key string, s *lockSlot) {
	k.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
	k.mu.Unlock()
}
