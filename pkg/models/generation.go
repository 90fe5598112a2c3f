package models

import "encoding/json"

// Part is a single text part of a content entry.
type Part struct {
	Text string `json:"text"`
}

// Content is a role-tagged list of parts, the upstream history shape.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Text joins the text of all parts.
func (c Content) Text() string {
	var out string
	for _, p := range c.Parts {
		out += p.Text
	}
	return out
}

// TextContent builds a single-part content entry.
func TextContent(role, text string) Content {
	return Content{Role: role, Parts: []Part{{Text: text}}}
}

// GenerationConfig carries the sampling parameters a client may set.
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *float64 `json:"topK,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	CandidateCount  *int     `json:"candidateCount,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// GenerateRequest is the body accepted by the generation proxy.
//
// The simple variant sends prompt and history. The richer variant sends
// model, contents and generationConfig and is detected by the presence of
// the contents key.
type GenerateRequest struct {
	Prompt            string            `json:"prompt,omitempty"`
	History           []Content         `json:"history,omitempty"`
	Model             string            `json:"model,omitempty"`
	Contents          []Content         `json:"contents,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`

	// Rich is set by UnmarshalJSON when the body carried a contents key.
	Rich bool `json:"-"`
}

func (r *GenerateRequest) UnmarshalJSON(b []byte) error {
	type plain GenerateRequest
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(b, &keys); err != nil {
		return err
	}
	_, rich := keys["contents"]
	*r = GenerateRequest(p)
	r.Rich = rich
	return nil
}

// GenerateResult is the proxy outcome. Raw holds the full upstream
// response for the richer variant.
type GenerateResult struct {
	Text string `json:"text"`
	Raw  any    `json:"-"`
}
