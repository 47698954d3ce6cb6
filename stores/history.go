package stores

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saiset-co/sai-cache/persistence"
	"github.com/saiset-co/sai-cache/types"
)

const (
	HistoryKey        = "translation_history"
	DefaultMaxHistory = 100
)

type TranslationEntry struct {
	ID             string    `json:"id"`
	SourceText     string    `json:"source_text"`
	TranslatedText string    `json:"translated_text"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	ImageHash      string    `json:"image_hash,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type historyState struct {
	Entries []TranslationEntry `json:"entries"`
}

type HistoryOption func(*TranslationHistory)

func WithHistoryClock(now func() time.Time) HistoryOption {
	return func(h *TranslationHistory) {
		if now != nil {
			h.now = now
		}
	}
}

// TranslationHistory keeps the most recent translations, newest first.
type TranslationHistory struct {
	store      *Store[historyState]
	maxEntries int
	now        func() time.Time
}

func NewTranslationHistory(manager *persistence.Manager, logger types.Logger, maxEntries int, opts ...HistoryOption) *TranslationHistory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxHistory
	}

	h := &TranslationHistory{
		store: NewStore(HistoryKey, manager, logger, func() historyState {
			return historyState{Entries: []TranslationEntry{}}
		}),
		maxEntries: maxEntries,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func (h *TranslationHistory) Store() Persistable {
	return h.store
}

func (h *TranslationHistory) Load(ctx context.Context) (bool, error) {
	return h.store.Load(ctx)
}

// Add records a translation and drops the oldest entries beyond the limit.
func (h *TranslationHistory) Add(ctx context.Context, entry TranslationEntry) (TranslationEntry, error) {
	if entry.SourceText == "" {
		return TranslationEntry{}, types.Errorf(types.ErrInvalidParameter, "source text is empty")
	}

	entry.ID = uuid.NewString()
	entry.CreatedAt = h.now().UTC()

	err := h.store.Update(ctx, func(state *historyState) error {
		entries := make([]TranslationEntry, 0, min(len(state.Entries)+1, h.maxEntries))
		entries = append(entries, entry)
		for _, existing := range state.Entries {
			if len(entries) == h.maxEntries {
				break
			}
			entries = append(entries, existing)
		}
		state.Entries = entries
		return nil
	})
	if err != nil {
		return TranslationEntry{}, err
	}

	return entry, nil
}

// List returns up to limit entries, newest first. A non-positive limit lists all.
func (h *TranslationHistory) List(limit int) []TranslationEntry {
	var result []TranslationEntry

	h.store.View(func(state *historyState) {
		n := len(state.Entries)
		if limit > 0 && limit < n {
			n = limit
		}
		result = make([]TranslationEntry, n)
		copy(result, state.Entries[:n])
	})

	return result
}

func (h *TranslationHistory) Len() int {
	var n int
	h.store.View(func(state *historyState) {
		n = len(state.Entries)
	})
	return n
}

func (h *TranslationHistory) Get(id string) (TranslationEntry, bool) {
	var (
		found TranslationEntry
		ok    bool
	)

	h.store.View(func(state *historyState) {
		for _, entry := range state.Entries {
			if entry.ID == id {
				found, ok = entry, true
				return
			}
		}
	})

	return found, ok
}

// Search matches query case-insensitively against source and translated text.
func (h *TranslationHistory) Search(query string) []TranslationEntry {
	query = strings.ToLower(strings.TrimSpace(query))
	result := make([]TranslationEntry, 0)

	h.store.View(func(state *historyState) {
		for _, entry := range state.Entries {
			if query == "" ||
				strings.Contains(strings.ToLower(entry.SourceText), query) ||
				strings.Contains(strings.ToLower(entry.TranslatedText), query) {
				result = append(result, entry)
			}
		}
	})

	return result
}

func (h *TranslationHistory) Remove(ctx context.Context, id string) (bool, error) {
	removed := false

	err := h.store.Update(ctx, func(state *historyState) error {
		for i, entry := range state.Entries {
			if entry.ID == id {
				state.Entries = append(state.Entries[:i], state.Entries[i+1:]...)
				removed = true
				return nil
			}
		}
		return nil
	})

	return removed, err
}

func (h *TranslationHistory) Clear(ctx context.Context) error {
	return h.store.Reset(ctx)
}
