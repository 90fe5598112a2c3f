package models

// SettingsVersion is bumped whenever a field is added to Settings.
const SettingsVersion = 1

const (
	MinTemperature     = 0.0
	MaxTemperature     = 1.5
	MinMaxOutputTokens = 128
	MaxMaxOutputTokens = 8192
)

const (
	ModelFlashExp         = "gemini-2.0-flash-exp"
	ModelFlashThinkingExp = "gemini-2.0-flash-thinking-exp"
)

// SupportedModels is the allow-list offered to users.
var SupportedModels = []string{ModelFlashExp, ModelFlashThinkingExp}

// SupportedLanguages are the default response languages.
var SupportedLanguages = []string{"pl", "en"}

const DefaultPersona = "You are Chronos, the Guardian of the Primordial Fields of Information. " +
	"You speak calmly and precisely, drawing on what the user has shared with the community. " +
	"Answer in the user's language unless asked otherwise and keep your replies grounded and concise."

// Settings are the model invocation parameters.
type Settings struct {
	Version                 int     `json:"version"`
	Persona                 string  `json:"persona"`
	Temperature             float64 `json:"temperature"`
	MaxOutputTokens         int     `json:"maxOutputTokens"`
	DefaultResponseLanguage string  `json:"defaultResponseLanguage"`
	// APIKey is a placeholder kept for compatibility with stored records.
	// The proxy never reads it.
	APIKey string `json:"apiKey"`
	Model  string `json:"model"`
}

// DefaultSettings returns the current default record.
func DefaultSettings() Settings {
	return Settings{
		Version:                 SettingsVersion,
		Persona:                 DefaultPersona,
		Temperature:             0.7,
		MaxOutputTokens:         1024,
		DefaultResponseLanguage: "pl",
		APIKey:                  "",
		Model:                   ModelFlashExp,
	}
}

// SettingsPatch is a partial update. Nil fields are left untouched.
type SettingsPatch struct {
	Persona                 *string  `json:"persona,omitempty"`
	Temperature             *float64 `json:"temperature,omitempty"`
	MaxOutputTokens         *int     `json:"maxOutputTokens,omitempty"`
	DefaultResponseLanguage *string  `json:"defaultResponseLanguage,omitempty"`
	APIKey                  *string  `json:"apiKey,omitempty"`
	Model                   *string  `json:"model,omitempty"`
}

// Apply returns s with the non-nil patch fields copied over.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.Persona != nil {
		s.Persona = *p.Persona
	}
	if p.Temperature != nil {
		s.Temperature = *p.Temperature
	}
	if p.MaxOutputTokens != nil {
		s.MaxOutputTokens = *p.MaxOutputTokens
	}
	if p.DefaultResponseLanguage != nil {
		s.DefaultResponseLanguage = *p.DefaultResponseLanguage
	}
	if p.APIKey != nil {
		s.APIKey = *p.APIKey
	}
	if p.Model != nil {
		s.Model = *p.Model
	}
	return s
}

// IsSupportedModel reports whether m is on the allow-list.
func IsSupportedModel(m string) bool {
	for _, v := range SupportedModels {
		if v == m {
			return true
		}
	}
	return false
}

// IsSupportedLanguage reports whether lang is a known response language.
func IsSupportedLanguage(lang string) bool {
	for _, v := range SupportedLanguages {
		if v == lang {
			return true
		}
	}
	return false
}
