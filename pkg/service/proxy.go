package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vibemirror/chronos/pkg/models"
	"github.com/vibemirror/chronos/pkg/utils"
	"google.golang.org/genai"
)

// ProxyErrorKind classifies why a generation request was rejected.
type ProxyErrorKind string

const (
	KindValidation  ProxyErrorKind = "validation"
	KindAuth        ProxyErrorKind = "auth"
	KindMethod      ProxyErrorKind = "method"
	KindConfig      ProxyErrorKind = "config"
	KindUpstream    ProxyErrorKind = "upstream"
	KindTransport   ProxyErrorKind = "transport"
	KindRateLimited ProxyErrorKind = "rate_limited"
)

const missingCredentialMessage = "Gemini API Key not configured"

// ProxyError is a rejection with the HTTP status to answer with.
// Payload, when set, is the JSON body relayed to the caller.
type ProxyError struct {
	Kind    ProxyErrorKind
	Status  int
	Message string
	Payload any
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Body is the JSON answered to the caller.
func (e *ProxyError) Body() any {
	if e.Payload != nil {
		return e.Payload
	}
	return map[string]any{"error": e.Message}
}

func NewProxyError(kind ProxyErrorKind, status int, message string) *ProxyError {
	return &ProxyError{Kind: kind, Status: status, Message: message}
}

type clientAddrKey struct{}

// WithClientAddr records the caller's network address. Anonymous callers are
// rate limited per address instead of sharing one bucket.
func WithClientAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, clientAddrKey{}, addr)
}

func rateKey(ctx context.Context, identity models.Identity) string {
	if !identity.Anonymous {
		return identity.UserID
	}
	if addr, _ := ctx.Value(clientAddrKey{}).(string); addr != "" {
		return "addr:" + addr
	}
	return identity.UserID
}

// Upstream is the model API the proxy forwards to.
type Upstream interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenAIUpstream calls the Gemini API through the genai SDK.
type GenAIUpstream struct {
	client *genai.Client
}

// NewGenAIUpstream creates a Gemini API client. baseURL may be empty.
func NewGenAIUpstream(ctx context.Context, apiKey, baseURL string) (*GenAIUpstream, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIUpstream{client: client}, nil
}

func (u *GenAIUpstream) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return u.client.Models.GenerateContent(ctx, model, contents, cfg)
}

type ProxyOptions struct {
	// APIKey is the provider credential. It is never accepted from callers.
	APIKey                 string
	DefaultModel           string
	DefaultMaxOutputTokens int
	// AllowedModels restricts the model field when non-empty.
	AllowedModels []string
	Timeout       time.Duration
	Limiter       *RateLimiter
}

// GenerationProxy validates generation requests, injects the server-held
// credential and relays the upstream outcome.
type GenerationProxy struct {
	upstream Upstream
	opts     ProxyOptions
	logger   *slog.Logger
}

func NewGenerationProxy(upstream Upstream, opts ProxyOptions) *GenerationProxy {
	if opts.Timeout <= 0 || opts.Timeout > 30*time.Second {
		opts.Timeout = 30 * time.Second
	}
	if opts.DefaultMaxOutputTokens <= 0 {
		opts.DefaultMaxOutputTokens = 200
	}
	return &GenerationProxy{upstream: upstream, opts: opts, logger: utils.GetLogger()}
}

// Configured reports whether a credential is present.
func (p *GenerationProxy) Configured() bool {
	return p.opts.APIKey != "" && p.upstream != nil
}

// Generate runs one request for an authenticated caller. Every failure is
// returned as a *ProxyError.
func (p *GenerationProxy) Generate(ctx context.Context, identity models.Identity, req models.GenerateRequest) (*models.GenerateResult, error) {
	if !p.opts.Limiter.Allow(rateKey(ctx, identity)) {
		return nil, NewProxyError(KindRateLimited, http.StatusTooManyRequests, "Too many requests")
	}

	model, contents, cfg, perr := p.buildCall(req)
	if perr != nil {
		return nil, perr
	}

	if !p.Configured() {
		p.logger.Error("Generation proxy has no upstream credential; set GEMINI_API_KEY")
		return nil, NewProxyError(KindConfig, http.StatusInternalServerError, missingCredentialMessage)
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.upstream.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		perr := p.classify(ctx, err)
		p.logger.Warn("Upstream generation failed",
			"user", identity.UserID, "model", model, "status", perr.Status,
			"kind", perr.Kind, "elapsed", time.Since(start))
		return nil, perr
	}
	if resp == nil {
		return nil, NewProxyError(KindTransport, http.StatusInternalServerError, "Proxy error: empty upstream response")
	}
	p.logger.Debug("Upstream generation finished", "user", identity.UserID, "model", model, "elapsed", time.Since(start))

	result := &models.GenerateResult{Text: resp.Text()}
	if req.Rich {
		result.Raw = resp
	}
	return result, nil
}

func (p *GenerationProxy) buildCall(req models.GenerateRequest) (string, []*genai.Content, *genai.GenerateContentConfig, *ProxyError) {
	var (
		model    string
		contents []models.Content
	)

	if req.Rich {
		model = strings.TrimSpace(req.Model)
		if model == "" || len(req.Contents) == 0 || req.GenerationConfig == nil {
			return "", nil, nil, NewProxyError(KindValidation, http.StatusBadRequest, "Missing required fields")
		}
		contents = req.Contents
	} else {
		if strings.TrimSpace(req.Prompt) == "" {
			return "", nil, nil, NewProxyError(KindValidation, http.StatusBadRequest, "Prompt is required")
		}
		model = strings.TrimSpace(req.Model)
		if model == "" {
			model = p.opts.DefaultModel
		}
		contents = append(append([]models.Content{}, req.History...), models.TextContent(models.RoleUser, req.Prompt))
	}

	if !p.modelAllowed(model) {
		return "", nil, nil, NewProxyError(KindValidation, http.StatusBadRequest, fmt.Sprintf("Model %q is not allowed", model))
	}

	out := make([]*genai.Content, 0, len(contents))
	for _, c := range contents {
		role := c.Role
		if role == "" {
			role = models.RoleUser
		}
		if role != models.RoleUser && role != models.RoleModel {
			return "", nil, nil, NewProxyError(KindValidation, http.StatusBadRequest, fmt.Sprintf("Invalid role %q", c.Role))
		}
		out = append(out, toGenAIContent(role, c))
	}

	cfg := toGenAIConfig(req.GenerationConfig)
	if !req.Rich && cfg.MaxOutputTokens == 0 {
		cfg.MaxOutputTokens = int32(p.opts.DefaultMaxOutputTokens)
	}
	if req.SystemInstruction != nil && strings.TrimSpace(req.SystemInstruction.Text()) != "" {
		cfg.SystemInstruction = toGenAIContent(models.RoleUser, *req.SystemInstruction)
	}
	return model, out, cfg, nil
}

func (p *GenerationProxy) modelAllowed(model string) bool {
	if len(p.opts.AllowedModels) == 0 {
		return true
	}
	for _, m := range p.opts.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// classify maps an upstream error. Errors reported by the API keep their
// status; anything else means no response was received.
func (p *GenerationProxy) classify(ctx context.Context, err error) *ProxyError {
	if apiErr, ok := asAPIError(err); ok {
		status := apiErr.Code
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		msg := p.scrub(apiErr.Message)
		return &ProxyError{
			Kind:    KindUpstream,
			Status:  status,
			Message: msg,
			Payload: map[string]any{
				"error": map[string]any{
					"code":    apiErr.Code,
					"message": msg,
					"status":  apiErr.Status,
				},
			},
		}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return NewProxyError(KindTransport, http.StatusInternalServerError,
			fmt.Sprintf("Proxy error: upstream did not answer within %s", p.opts.Timeout))
	}
	return NewProxyError(KindTransport, http.StatusInternalServerError, "Proxy error: "+p.scrub(err.Error()))
}

// scrub removes the credential from text bound for a response or a log.
func (p *GenerationProxy) scrub(s string) string {
	if p.opts.APIKey == "" {
		return s
	}
	return strings.ReplaceAll(s, p.opts.APIKey, "[redacted]")
}

func asAPIError(err error) (genai.APIError, bool) {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch v := any(e).(type) {
		case genai.APIError:
			return v, true
		case *genai.APIError:
			if v != nil {
				return *v, true
			}
		}
	}
	return genai.APIError{}, false
}

func toGenAIContent(role string, c models.Content) *genai.Content {
	parts := make([]*genai.Part, 0, len(c.Parts))
	for _, part := range c.Parts {
		parts = append(parts, &genai.Part{Text: part.Text})
	}
	return &genai.Content{Role: role, Parts: parts}
}

func toGenAIConfig(gc *models.GenerationConfig) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if gc == nil {
		return cfg
	}
	if gc.Temperature != nil {
		v := float32(*gc.Temperature)
		cfg.Temperature = &v
	}
	if gc.TopP != nil {
		v := float32(*gc.TopP)
		cfg.TopP = &v
	}
	if gc.TopK != nil {
		v := float32(*gc.TopK)
		cfg.TopK = &v
	}
	if gc.MaxOutputTokens != nil && *gc.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(*gc.MaxOutputTokens)
	}
	if gc.CandidateCount != nil && *gc.CandidateCount > 0 {
		cfg.CandidateCount = int32(*gc.CandidateCount)
	}
	cfg.StopSequences = gc.StopSequences
	return cfg
}
