package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vibemirror/chronos/pkg/models"
)

// GenerationClient is how the chat flow reaches the generation proxy.
type GenerationClient interface {
	Generate(ctx context.Context, identity models.Identity, req models.GenerateRequest) (string, error)
}

// LocalGenerationClient calls the proxy in-process.
type LocalGenerationClient struct {
	proxy *GenerationProxy
}

func NewLocalGenerationClient(proxy *GenerationProxy) *LocalGenerationClient {
	return &LocalGenerationClient{proxy: proxy}
}

func (c *LocalGenerationClient) Generate(ctx context.Context, identity models.Identity, req models.GenerateRequest) (string, error) {
	res, err := c.proxy.Generate(ctx, identity, req)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// HTTPGenerationClient posts the simple request body to a remote proxy.
type HTTPGenerationClient struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPGenerationClient targets endpoint. token, when set, is sent as a
// bearer token.
func NewHTTPGenerationClient(endpoint, token string, client *http.Client) *HTTPGenerationClient {
	if client == nil {
		client = &http.Client{Timeout: 35 * time.Second}
	}
	return &HTTPGenerationClient{endpoint: strings.TrimSpace(endpoint), token: token, client: client}
}

func (c *HTTPGenerationClient) Generate(ctx context.Context, _ models.Identity, req models.GenerateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", NewProxyError(KindTransport, http.StatusInternalServerError, "Proxy error: "+err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", NewProxyError(KindTransport, http.StatusInternalServerError, "Proxy error: "+err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		return "", &ProxyError{
			Kind:    KindUpstream,
			Status:  resp.StatusCode,
			Message: errorMessage(raw, resp.Status),
		}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", NewProxyError(KindTransport, http.StatusInternalServerError, "Proxy error: invalid response body")
	}
	return out.Text, nil
}

// errorMessage extracts the error text from {"error": "..."} or
// {"error": {"message": "..."}}.
func errorMessage(body []byte, fallback string) string {
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &env) != nil || len(env.Error) == 0 {
		return fallback
	}
	var s string
	if json.Unmarshal(env.Error, &s) == nil && s != "" {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(env.Error, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return fallback
}
