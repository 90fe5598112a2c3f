package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vibemirror/chronos/pkg/event"
	"github.com/vibemirror/chronos/pkg/kv"
	"github.com/vibemirror/chronos/pkg/models"
	"github.com/vibemirror/chronos/pkg/utils"
)

const SettingsKey = "chronos.settings"

// SettingsStore persists the model invocation parameters under one key.
// Every load merges the stored record over the defaults; keys the current
// version does not know about are carried through untouched.
type SettingsStore struct {
	kv       kv.Store
	defaults models.Settings
	emitter  *event.Emitter
	logger   *slog.Logger
	mu       sync.Mutex
}

func NewSettingsStore(store kv.Store, emitter *event.Emitter) *SettingsStore {
	if emitter == nil {
		emitter = event.Global()
	}
	return &SettingsStore{
		kv:       store,
		defaults: models.DefaultSettings(),
		emitter:  emitter,
		logger:   utils.GetLogger(),
	}
}

// Load returns the stored settings merged over the defaults and writes the
// merged record back when it differs from what was stored.
func (s *SettingsStore) Load(ctx context.Context) (models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, _, err := s.load(ctx)
	return settings, err
}

// Update shallow-merges patch over the current settings and persists the
// result before returning. Values are stored as given.
func (s *SettingsStore) Update(ctx context.Context, patch models.SettingsPatch) (models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, raw, err := s.load(ctx)
	if err != nil {
		return models.Settings{}, err
	}

	updated := patch.Apply(current)
	blob, err := encodeSettings(updated, raw)
	if err != nil {
		return models.Settings{}, err
	}
	if err := s.kv.Set(ctx, SettingsKey, blob); err != nil {
		return models.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	s.emitter.Emit(event.SettingsChangedEvent{})
	return updated, nil
}

func (s *SettingsStore) load(ctx context.Context) (models.Settings, map[string]json.RawMessage, error) {
	stored, ok, err := s.kv.Get(ctx, SettingsKey)
	if err != nil {
		return models.Settings{}, nil, fmt.Errorf("read settings: %w", err)
	}

	var raw map[string]json.RawMessage
	if ok {
		if err := json.Unmarshal(stored, &raw); err != nil {
			s.logger.Warn("Stored settings are unreadable, resetting to defaults", "error", err)
			raw = nil
		}
	}

	settings, merged := FillMissing(s.defaults, raw)
	blob, err := encodeSettings(settings, merged)
	if err != nil {
		return models.Settings{}, nil, err
	}
	if !ok || !bytes.Equal(blob, stored) {
		if err := s.kv.Set(ctx, SettingsKey, blob); err != nil {
			return models.Settings{}, nil, fmt.Errorf("save settings: %w", err)
		}
	}
	return settings, merged, nil
}

// FillMissing decodes every known field from raw and takes the default for
// fields that are missing, null or of the wrong type. The returned map holds
// raw plus the resolved known fields, so unknown keys survive a round trip.
func FillMissing(defaults models.Settings, raw map[string]json.RawMessage) (models.Settings, map[string]json.RawMessage) {
	out := models.Settings{
		Version:                 field(raw, "version", defaults.Version),
		Persona:                 field(raw, "persona", defaults.Persona),
		Temperature:             field(raw, "temperature", defaults.Temperature),
		MaxOutputTokens:         field(raw, "maxOutputTokens", defaults.MaxOutputTokens),
		DefaultResponseLanguage: field(raw, "defaultResponseLanguage", defaults.DefaultResponseLanguage),
		APIKey:                  field(raw, "apiKey", defaults.APIKey),
		Model:                   field(raw, "model", defaults.Model),
	}
	if out.Version < defaults.Version {
		out.Version = defaults.Version
	}

	merged := make(map[string]json.RawMessage, len(raw)+7)
	for k, v := range raw {
		merged[k] = v
	}
	return out, merged
}

func field[T any](raw map[string]json.RawMessage, key string, def T) T {
	v, ok := raw[key]
	if !ok || len(bytes.TrimSpace(v)) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return def
	}
	var out T
	if err := json.Unmarshal(v, &out); err != nil {
		return def
	}
	return out
}

// encodeSettings writes the known fields of s over raw. Map keys are sorted
// by encoding/json, which keeps the output stable across saves.
func encodeSettings(s models.Settings, raw map[string]json.RawMessage) ([]byte, error) {
	known, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	var knownFields map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownFields); err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}

	out := make(map[string]json.RawMessage, len(raw)+len(knownFields))
	for k, v := range raw {
		out[k] = v
	}
	for k, v := range knownFields {
		out[k] = v
	}
	blob, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal settings: %w", err)
	}
	return blob, nil
}
