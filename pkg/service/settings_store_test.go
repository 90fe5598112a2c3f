package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vibemirror/chronos/pkg/event"
	"github.com/vibemirror/chronos/pkg/models"
)

func TestSettingsStore_LoadDefaultsWhenAbsent(t *testing.T) {
	ctx := context.Background()
	s := newStores()

	got, err := s.settings.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), got)

	_, ok, err := s.kv.Get(ctx, SettingsKey)
	require.NoError(t, err)
	assert.True(t, ok, "merged defaults are persisted on first load")
}

func TestSettingsStore_MergeKeepsKnownAndUnknownFields(t *testing.T) {
	ctx := context.Background()
	s := newStores()
	require.NoError(t, s.kv.Set(ctx, SettingsKey, []byte(`{"temperature":1.2,"theme":"dark","model":42}`)))

	got, err := s.settings.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.2, got.Temperature)
	assert.Equal(t, models.ModelFlashExp, got.Model, "wrong-typed field falls back to default")
	assert.Equal(t, 1024, got.MaxOutputTokens)
	assert.Equal(t, models.DefaultPersona, got.Persona)

	blob, _, err := s.kv.Get(ctx, SettingsKey)
	require.NoError(t, err)
	var stored map[string]any
	require.NoError(t, json.Unmarshal(blob, &stored))
	assert.Equal(t, "dark", stored["theme"])
	for _, key := range []string{"version", "persona", "temperature", "maxOutputTokens", "defaultResponseLanguage", "apiKey", "model"} {
		assert.Contains(t, stored, key)
	}
}

func TestSettingsStore_LoadThenSaveIsByteIdentical(t *testing.T) {
	ctx := context.Background()
	s := newStores()
	require.NoError(t, s.kv.Set(ctx, SettingsKey, []byte(`{ "persona": "x", "extra": {"nested": [1, 2]} }`)))

	_, err := s.settings.Load(ctx)
	require.NoError(t, err)
	first, _, err := s.kv.Get(ctx, SettingsKey)
	require.NoError(t, err)

	_, err = s.settings.Update(ctx, models.SettingsPatch{})
	require.NoError(t, err)
	second, _, err := s.kv.Get(ctx, SettingsKey)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestSettingsStore_CorruptionResetsToDefaults(t *testing.T) {
	ctx := context.Background()
	s := newStores()
	require.NoError(t, s.kv.Set(ctx, SettingsKey, []byte(`{not json`)))

	got, err := s.settings.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), got)

	blob, _, err := s.kv.Get(ctx, SettingsKey)
	require.NoError(t, err)
	assert.True(t, json.Valid(blob))
}

func TestSettingsStore_UpdateAcceptsOutOfRangeAndPersists(t *testing.T) {
	ctx := context.Background()
	s := newStores()

	var changed int
	s.emitter.On(event.SettingsChanged, func(event.Event) { changed++ })

	temp := 9.5
	tokens := 5
	got, err := s.settings.Update(ctx, models.SettingsPatch{Temperature: &temp, MaxOutputTokens: &tokens})
	require.NoError(t, err)
	assert.Equal(t, 9.5, got.Temperature)
	assert.Equal(t, 5, got.MaxOutputTokens)
	assert.Equal(t, 1, changed)

	reloaded, err := NewSettingsStore(s.kv, s.emitter).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, got, reloaded)
}

func TestFillMissing_NullUsesDefault(t *testing.T) {
	raw := map[string]json.RawMessage{"persona": json.RawMessage(`null`), "version": json.RawMessage(`0`)}
	got, merged := FillMissing(models.DefaultSettings(), raw)
	assert.Equal(t, models.DefaultPersona, got.Persona)
	assert.Equal(t, models.SettingsVersion, got.Version)
	assert.Contains(t, merged, "persona")
}
