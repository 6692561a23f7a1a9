// Package conversations caches the live chat state of each visitor: the
// summary memory handed to the model and the conversation row it persists to.
package conversations

import (
	"context"
	"strconv"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/falaai/server/internal/agent/graph/memory"
	"github.com/falaai/server/internal/agent/model"
	"github.com/falaai/server/internal/metrics"
	"github.com/falaai/server/internal/store"
	logx "github.com/falaai/server/pkg/logger"
)

// Identity names whoever is chatting: a logged-in user or an anonymous
// session.
type Identity struct {
	UserID int64
	AnonID string
}

func (i Identity) LoggedIn() bool { return i.UserID != 0 }

// Key is user:<id> for accounts and anon:<sid> otherwise.
func (i Identity) Key() string {
	if i.LoggedIn() {
		return "user:" + strconv.FormatInt(i.UserID, 10)
	}
	return "anon:" + i.AnonID
}

// State is the cached chat state of one identity. Hold the lock for the whole
// exchange so turns of the same visitor are serialized.
type State struct {
	sync.Mutex
	Memory         *memory.SummaryBuffer
	ConversationID *int64
}

// HistoryStore loads persisted conversations for logged-in users.
type HistoryStore interface {
	LatestConversation(ctx context.Context, userID int64) (*store.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64) ([]store.Message, error)
}

type Cache struct {
	mu         sync.Mutex
	states     map[string]*State
	store      HistoryStore
	mirror     model.TranscriptMirror
	summarizer memory.Summarizer
	memCfg     model.MemoryConfig
	metrics    *metrics.Metrics
}

type CacheConfig struct {
	Store      HistoryStore
	Mirror     model.TranscriptMirror // optional
	Summarizer memory.Summarizer
	Memory     model.MemoryConfig
	Metrics    *metrics.Metrics
}

func NewCache(cfg CacheConfig) *Cache {
	return &Cache{
		states:     make(map[string]*State),
		store:      cfg.Store,
		mirror:     cfg.Mirror,
		summarizer: cfg.Summarizer,
		memCfg:     cfg.Memory,
		metrics:    cfg.Metrics,
	}
}

// Get returns the cached state, loading it on first use: users resume their
// most recent conversation, anonymous visitors their mirrored transcript.
func (c *Cache) Get(ctx context.Context, id Identity) (*State, error) {
	key := id.Key()
	c.mu.Lock()
	st, ok := c.states[key]
	c.mu.Unlock()
	if ok {
		return st, nil
	}

	st, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.states[key]; ok {
		return existing, nil
	}
	c.states[key] = st
	c.metrics.SetCachedStates(len(c.states))
	return st, nil
}

func (c *Cache) load(ctx context.Context, id Identity) (*State, error) {
	if !id.LoggedIn() {
		return &State{Memory: c.newMemory(c.loadMirror(ctx, id))}, nil
	}

	conv, err := c.store.LatestConversation(ctx, id.UserID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return &State{Memory: c.newMemory(nil)}, nil
	}
	msgs, err := c.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	convID := conv.ID
	logx.Debug().Int64("user_id", id.UserID).Int64("conversation_id", convID).Int("messages", len(msgs)).
		Msg("resumed latest conversation")
	return &State{Memory: c.newMemory(ToSchema(msgs)), ConversationID: &convID}, nil
}

func (c *Cache) loadMirror(ctx context.Context, id Identity) []*schema.Message {
	if c.mirror == nil || id.AnonID == "" {
		return nil
	}
	msgs, err := c.mirror.Load(ctx, id.Key())
	if err != nil {
		logx.Warn().Err(err).Str("conversation_key", id.Key()).Msg("failed to load anonymous transcript")
		return nil
	}
	return msgs
}

func (c *Cache) newMemory(history []*schema.Message) *memory.SummaryBuffer {
	return memory.NewSummaryBuffer(c.memCfg, c.summarizer, history)
}

// Mirror appends an anonymous exchange to the transcript store. Failures are
// logged only.
func (c *Cache) Mirror(ctx context.Context, id Identity, userText, aiText string) {
	if c.mirror == nil || id.LoggedIn() || id.AnonID == "" {
		return
	}
	if err := c.mirror.AppendExchange(ctx, id.Key(), userText, aiText); err != nil {
		logx.Warn().Err(err).Str("conversation_key", id.Key()).Msg("failed to mirror anonymous exchange")
	}
}

// Reset replaces the state with an empty one. No row is created until the
// next message is sent.
func (c *Cache) Reset(ctx context.Context, id Identity) {
	if id.LoggedIn() {
		// an evicted user would reload their latest conversation
		c.mu.Lock()
		c.states[id.Key()] = &State{Memory: c.newMemory(nil)}
		c.metrics.SetCachedStates(len(c.states))
		c.mu.Unlock()
		return
	}
	c.Evict(id)
	if c.mirror != nil && !id.LoggedIn() && id.AnonID != "" {
		if err := c.mirror.Clear(ctx, id.Key()); err != nil {
			logx.Warn().Err(err).Str("conversation_key", id.Key()).Msg("failed to clear anonymous transcript")
		}
	}
}

// Select makes conversationID the active conversation of a user, seeded with
// msgs. Ownership must already be checked.
func (c *Cache) Select(id Identity, conversationID int64, msgs []store.Message) {
	st := &State{Memory: c.newMemory(ToSchema(msgs)), ConversationID: &conversationID}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[id.Key()] = st
	c.metrics.SetCachedStates(len(c.states))
}

func (c *Cache) Evict(id Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, id.Key())
	c.metrics.SetCachedStates(len(c.states))
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

// ToSchema converts stored rows into chat messages, oldest first.
func ToSchema(msgs []store.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Sender {
		case store.SenderUser:
			out = append(out, schema.UserMessage(m.Content))
		case store.SenderAI:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		}
	}
	return out
}
