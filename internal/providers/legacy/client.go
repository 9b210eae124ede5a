// Package legacy talks to the backend's request/response HTTP endpoints.
package legacy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"dictamic/internal/domain"
)

type Config struct {
	BaseURL     string
	EnableHTTP2 bool
	Timeout     time.Duration
}

// Client transcribes files on disk and lists the backend's models.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "http://127.0.0.1:8111"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	return &Client{baseURL: base, http: newHTTPClient(cfg)}
}

func newHTTPClient(cfg Config) *http.Client {
	tr := &http.Transport{
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if cfg.EnableHTTP2 {
		_ = http2.ConfigureTransport(tr)
	}
	return &http.Client{Transport: tr, Timeout: cfg.Timeout}
}

type transcribeRequest struct {
	File string `json:"file"`
}

type response struct {
	Status string   `json:"status"`
	Text   string   `json:"text"`
	Models []string `json:"models"`
	Error  string   `json:"error"`
}

func (c *Client) TranscribeFile(ctx context.Context, path string) (string, error) {
	body, err := json.Marshal(transcribeRequest{File: path})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	out, err := c.do(req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", domain.ErrEmptyTranscript
	}
	return text, nil
}

func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	out, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return out.Models, nil
}

func (c *Client) do(req *http.Request) (response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return response{}, fmt.Errorf("read response: %w", err)
	}

	var out response
	if err := json.Unmarshal(payload, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return response{}, fmt.Errorf("backend error: %d - %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		}
		return response{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Status == "error" {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return response{}, fmt.Errorf("%w: %s", domain.ErrTranscription, msg)
	}
	return out, nil
}
