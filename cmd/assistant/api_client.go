package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// DefaultClientTimeout запросы к консоли короткие, кроме /v1/requests
const DefaultClientTimeout = 10 * time.Second

var apiClient = &http.Client{Timeout: DefaultClientTimeout}

func apiDo(method, path string, data any) ([]byte, error) {
	var body io.Reader
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, apiAddr+path, body)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// токен консоли, если она запущена с RS256
	if token := os.Getenv("ASSISTANT_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, bytes.TrimSpace(out))
	}
	return out, nil
}

func apiGet(path string, v any) error {
	raw, err := apiDo(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
