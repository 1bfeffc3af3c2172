// Package localization provides the user-facing texts of the service.
// Translations are JSON files named after their language code (e.g. "ko.json"),
// embedded into the binary.
package localization

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"
)

// FallbackLang is consulted when a key is missing from the requested language.
const FallbackLang = "ko"

//go:embed locales/*.json
var embedded embed.FS

// Localizer manages the translations for the application.
type Localizer struct {
	translations map[string]map[string]string
	lang         string
	mu           sync.RWMutex
}

// NewLocalizer loads every *.json file of dir in fsys. lang is the language
// returned texts default to.
func NewLocalizer(fsys fs.FS, dir, lang string) (*Localizer, error) {
	l := &Localizer{
		translations: make(map[string]map[string]string),
		lang:         lang,
	}

	files, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read localization directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		data, err := fs.ReadFile(fsys, path.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read localization file %s: %w", file.Name(), err)
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return nil, fmt.Errorf("failed to parse localization file %s: %w", file.Name(), err)
		}

		l.translations[strings.TrimSuffix(file.Name(), ".json")] = translations
	}

	if _, ok := l.translations[lang]; !ok {
		return nil, fmt.Errorf("no translations for language %q", lang)
	}
	return l, nil
}

// NewEmbedded returns a Localizer over the translations built into the binary.
func NewEmbedded(lang string) (*Localizer, error) {
	return NewLocalizer(embedded, "locales", lang)
}

// Lang returns the default language of l.
func (l *Localizer) Lang() string {
	return l.lang
}

// GetString returns the string for key in lang.
// Missing keys fall back to FallbackLang and finally to the key itself.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if value, ok := l.translations[lang][key]; ok {
		return value
	}
	if value, ok := l.translations[FallbackLang][key]; ok {
		return value
	}
	return key
}

// T returns key in the default language, formatted with args when any are given.
func (l *Localizer) T(key string, args ...any) string {
	s := l.GetString(l.lang, key)
	if len(args) == 0 {
		return s
	}
	return fmt.Sprintf(s, args...)
}
