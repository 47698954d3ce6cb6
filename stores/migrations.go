package stores

import (
	"github.com/pkg/errors"

	"github.com/saiset-co/sai-cache/persistence"
)

const DefaultOCRProvider = "tesseract"

// SettingsMigrations upgrade settings records written by older releases.
func SettingsMigrations() []persistence.Migration {
	return []persistence.Migration{
		{
			Version:     "1.1.0",
			Description: "rename language to target_language",
			Migrate: func(data interface{}) (interface{}, error) {
				settings, err := settingsMap(data)
				if err != nil {
					return nil, err
				}

				if language, ok := settings["language"]; ok {
					if _, exists := settings["target_language"]; !exists {
						settings["target_language"] = language
					}
					delete(settings, "language")
				}

				return settings, nil
			},
		},
		{
			Version:     "1.2.0",
			Description: "add ocr_provider",
			Migrate: func(data interface{}) (interface{}, error) {
				settings, err := settingsMap(data)
				if err != nil {
					return nil, err
				}

				if provider, ok := settings["ocr_provider"].(string); !ok || provider == "" {
					settings["ocr_provider"] = DefaultOCRProvider
				}

				return settings, nil
			},
		},
	}
}

// NewSettingsMigrator returns a migrator holding SettingsMigrations.
func NewSettingsMigrator() (*persistence.Migrator, error) {
	return persistence.NewMigrator(SettingsMigrations()...)
}

func settingsMap(data interface{}) (map[string]interface{}, error) {
	if data == nil {
		return map[string]interface{}{}, nil
	}

	settings, ok := data.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("settings record is %T, expected an object", data)
	}

	return settings, nil
}
