package stores

import (
	"context"

	"github.com/saiset-co/sai-cache/persistence"
	"github.com/saiset-co/sai-cache/types"
)

const SettingsKey = "settings"

type Settings struct {
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	OCRProvider    string `json:"ocr_provider"`
	Theme          string `json:"theme"`
	FontSize       int    `json:"font_size"`
	CacheEnabled   bool   `json:"cache_enabled"`
	ShowOriginal   bool   `json:"show_original"`
}

func DefaultSettings() Settings {
	return Settings{
		SourceLanguage: "ja",
		TargetLanguage: "en",
		OCRProvider:    DefaultOCRProvider,
		Theme:          "light",
		FontSize:       14,
		CacheEnabled:   true,
	}
}

type SettingsStore struct {
	store *Store[Settings]
}

// NewSettingsStore expects a persistence manager whose migrator carries
// SettingsMigrations.
func NewSettingsStore(manager *persistence.Manager, logger types.Logger) *SettingsStore {
	return &SettingsStore{
		store: NewStore(SettingsKey, manager, logger, DefaultSettings),
	}
}

func (s *SettingsStore) Store() Persistable {
	return s.store
}

func (s *SettingsStore) Load(ctx context.Context) (bool, error) {
	return s.store.Load(ctx)
}

func (s *SettingsStore) Get() Settings {
	var settings Settings
	s.store.View(func(state *Settings) {
		settings = *state
	})
	return settings
}

func (s *SettingsStore) Update(ctx context.Context, fn func(settings *Settings) error) error {
	return s.store.Update(ctx, fn)
}

func (s *SettingsStore) Reset(ctx context.Context) error {
	return s.store.Reset(ctx)
}
