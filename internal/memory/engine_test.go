package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/edgecore/engined/internal/llm"
	"github.com/edgecore/engined/internal/store"
)

// fakeStore is an in-memory stand-in for *store.Store, scoped to
// exactly the methods the Store interface names.
type fakeStore struct {
	turns []*store.Memory
	ltm   map[[2]int64]*store.LongTermMemory
	prefs map[[2]int64]map[string]*store.UserPreference
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		ltm:   make(map[[2]int64]*store.LongTermMemory),
		prefs: make(map[[2]int64]map[string]*store.UserPreference),
	}
}

func (f *fakeStore) AppendMemory(ctx context.Context, m *store.Memory) error {
	m.CreatedAt = time.Now()
	f.turns = append(f.turns, m)
	return nil
}

func (f *fakeStore) RecentMemory(ctx context.Context, userID, chatID int64, limit int) ([]*store.Memory, error) {
	var matched []*store.Memory
	for _, t := range f.turns {
		if t.UserID == userID && t.ChatID == chatID {
			matched = append(matched, t)
		}
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

func (f *fakeStore) CountMemory(ctx context.Context, userID, chatID int64) (int, error) {
	n := 0
	for _, t := range f.turns {
		if t.UserID == userID && t.ChatID == chatID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) PruneMemory(ctx context.Context, userID, chatID int64, maxAge time.Duration, maxCount int) (int64, error) {
	return 0, nil
}

func (f *fakeStore) GetLongTermMemory(ctx context.Context, userID, chatID int64) (*store.LongTermMemory, error) {
	ltm, ok := f.ltm[[2]int64{userID, chatID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return ltm, nil
}

func (f *fakeStore) UpsertLongTermMemory(ctx context.Context, userID, chatID int64, summary string) error {
	f.ltm[[2]int64{userID, chatID}] = &store.LongTermMemory{UserID: userID, ChatID: chatID, Summary: summary}
	return nil
}

func (f *fakeStore) GetPreferences(ctx context.Context, userID, chatID int64) ([]*store.UserPreference, error) {
	key := [2]int64{userID, chatID}
	var out []*store.UserPreference
	for _, p := range f.prefs[key] {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) UpsertPreference(ctx context.Context, p *store.UserPreference) error {
	key := [2]int64{p.UserID, p.ChatID}
	if f.prefs[key] == nil {
		f.prefs[key] = make(map[string]*store.UserPreference)
	}
	if existing, ok := f.prefs[key][p.Key]; ok && existing.Confidence > p.Confidence {
		return nil
	}
	cp := *p
	f.prefs[key][p.Key] = &cp
	return nil
}

type fakeCompleter struct {
	text string
	err  error
	n    int
}

func (f *fakeCompleter) Complete(ctx context.Context, userID int64, req llm.Request) (*llm.Response, error) {
	f.n++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.text}, nil
}

func TestEngine_RecordTurn_ExtractsPreference(t *testing.T) {
	st := newFakeStore()
	e := New(st, &fakeCompleter{}, DefaultConfig())

	if err := e.RecordTurn(context.Background(), 1, 1, store.MemoryRoleUser, "Call me Max"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	prefs, err := st.GetPreferences(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	if len(prefs) != 1 || prefs[0].Key != "preferred_name" || prefs[0].Value != "Max" {
		t.Errorf("prefs = %+v, want one preferred_name=Max", prefs)
	}
}

func TestEngine_RecordTurn_TriggersSummarization(t *testing.T) {
	st := newFakeStore()
	completer := &fakeCompleter{text: "user likes concise replies"}
	cfg := DefaultConfig()
	cfg.SummarizeThreshold = 3
	e := New(st, completer, cfg)

	for i := 0; i < 3; i++ {
		role := store.MemoryRoleUser
		if i%2 == 1 {
			role = store.MemoryRoleAssistant
		}
		if err := e.RecordTurn(context.Background(), 1, 1, role, fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatalf("RecordTurn: %v", err)
		}
	}

	if completer.n == 0 {
		t.Fatal("expected summarization to call the gateway")
	}

	ltm, err := st.GetLongTermMemory(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("GetLongTermMemory: %v", err)
	}
	if ltm.Summary != "user likes concise replies" {
		t.Errorf("summary = %q", ltm.Summary)
	}
}

func TestEngine_Block_AssemblesPreferencesSummaryAndTurns(t *testing.T) {
	st := newFakeStore()
	e := New(st, &fakeCompleter{}, DefaultConfig())
	ctx := context.Background()

	_ = st.UpsertPreference(ctx, &store.UserPreference{UserID: 1, ChatID: 1, Key: "reply_language", Value: "en", Confidence: 0.9})
	_ = st.UpsertLongTermMemory(ctx, 1, 1, "discussed project timelines")
	_ = e.RecordTurn(ctx, 1, 1, store.MemoryRoleUser, "what is next")

	block, err := e.Block(ctx, 1, 1)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if !strings.Contains(block, "reply_language: en") {
		t.Errorf("block missing preference: %q", block)
	}
	if !strings.Contains(block, "discussed project timelines") {
		t.Errorf("block missing summary: %q", block)
	}
	if !strings.Contains(block, "what is next") {
		t.Errorf("block missing recent turn: %q", block)
	}
}

func TestEngine_RecordTurn_SummarizationFailureIsNonFatal(t *testing.T) {
	st := newFakeStore()
	cfg := DefaultConfig()
	cfg.SummarizeThreshold = 1
	e := New(st, &fakeCompleter{err: fmt.Errorf("provider down")}, cfg)

	if err := e.RecordTurn(context.Background(), 1, 1, store.MemoryRoleUser, "hello"); err != nil {
		t.Fatalf("RecordTurn should not fail when summarization fails: %v", err)
	}
}
