package service

import (
	"context"
	"sync"
	"time"

	"github.com/vibemirror/chronos/pkg/event"
	"github.com/vibemirror/chronos/pkg/kv"
	"google.golang.org/genai"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeUpstream struct {
	mu     sync.Mutex
	calls  int
	model  string
	got    []*genai.Content
	cfg    *genai.GenerateContentConfig
	text   string
	err    error
	block  chan struct{}
	called chan struct{}
}

func (f *fakeUpstream) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	f.calls++
	f.model = model
	f.got = contents
	f.cfg = cfg
	block, called := f.block, f.called
	f.mu.Unlock()

	if called != nil {
		called <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return textResponse(f.text), nil
}

func (f *fakeUpstream) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

type stores struct {
	kv            *kv.Memory
	clock         *clock
	emitter       *event.Emitter
	settings      *SettingsStore
	conversations *ConversationStore
	forum         *ForumStore
}

func newStores() *stores {
	mem := kv.NewMemory()
	clk := newClock()
	em := event.NewEmitter()

	conversations := NewConversationStore(mem, em)
	conversations.now = clk.Now
	forum := NewForumStore(mem, em)
	forum.now = clk.Now

	return &stores{
		kv:            mem,
		clock:         clk,
		emitter:       em,
		settings:      NewSettingsStore(mem, em),
		conversations: conversations,
		forum:         forum,
	}
}
