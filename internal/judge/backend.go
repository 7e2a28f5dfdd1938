package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// errBackendUnavailable wraps network-level failures eligible for retry.
var errBackendUnavailable = errors.New("reasoning backend unavailable")

// Health describes backend reachability and model availability.
type Health struct {
	Status          string   `json:"status"` // connected, disconnected, error
	ModelsLoaded    int      `json:"models_loaded"`
	PrimaryModel    string   `json:"primary_model"`
	PrimaryLoaded   bool     `json:"primary_model_available"`
	AvailableModels []string `json:"available_models,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// Backend is a reasoning service that completes prompts.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Health(ctx context.Context) Health
}

// OllamaConfig holds the wire-protocol client settings.
type OllamaConfig struct {
	Host        string
	Model       string
	Timeout     time.Duration
	Temperature float64
	NumPredict  int
}

// OllamaBackend speaks the generate/tags HTTP protocol.
type OllamaBackend struct {
	cfg    OllamaConfig
	client *http.Client
}

// NewOllamaBackend creates a backend client with a fixed per-call deadline.
func NewOllamaBackend(cfg OllamaConfig) *OllamaBackend {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "codellama:7b-instruct"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	if cfg.NumPredict == 0 {
		cfg.NumPredict = 2000
	}
	return &OllamaBackend{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate issues one completion call. Connection failures and timeouts
// come back wrapped in errBackendUnavailable so callers can retry them.
func (b *OllamaBackend) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  b.cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: b.cfg.Temperature,
			NumPredict:  b.cfg.NumPredict,
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if isNetworkError(err) {
			return "", fmt.Errorf("%w: %v", errBackendUnavailable, err)
		}
		return "", fmt.Errorf("generate call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: status %d", errBackendUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate call: status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	return out.Response, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Health polls the tags endpoint for reachability and model availability.
func (b *OllamaBackend) Health(ctx context.Context) Health {
	h := Health{PrimaryModel: b.cfg.Model}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.cfg.Host+"/api/tags", nil)
	if err != nil {
		h.Status = "error"
		h.Error = err.Error()
		return h
	}
	resp, err := b.client.Do(req)
	if err != nil {
		h.Status = "disconnected"
		h.Error = err.Error()
		return h
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		h.Status = "error"
		h.Error = fmt.Sprintf("status %d", resp.StatusCode)
		return h
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		h.Status = "error"
		h.Error = err.Error()
		return h
	}

	h.Status = "connected"
	h.ModelsLoaded = len(tags.Models)
	for _, m := range tags.Models {
		h.AvailableModels = append(h.AvailableModels, m.Name)
		if m.Name == b.cfg.Model {
			h.PrimaryLoaded = true
		}
	}
	return h
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) || errors.Is(err, context.DeadlineExceeded)
}
