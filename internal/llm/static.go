package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// StaticClient serves canned JSON responses keyed by a substring of the
// prompt. It backs mock mode and the pipeline tests; no network calls.
type StaticClient struct {
	mu        sync.Mutex
	responses map[string]string
	fallback  string
	calls     []string
}

// NewStaticClient builds a client that matches each prompt against the
// response keys and decodes the first hit. fallback, when non-empty, answers
// prompts no key matches.
func NewStaticClient(responses map[string]string, fallback string) *StaticClient {
	return &StaticClient{responses: responses, fallback: fallback}
}

// Extract implements Client.
func (c *StaticClient) Extract(ctx context.Context, prompt string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.calls = append(c.calls, prompt)
	c.mu.Unlock()

	for key, body := range c.responses {
		if strings.Contains(prompt, key) {
			return json.Unmarshal([]byte(body), out)
		}
	}
	if c.fallback != "" {
		return json.Unmarshal([]byte(c.fallback), out)
	}
	return fmt.Errorf("no canned response matches prompt")
}

// Calls returns the prompts seen so far.
func (c *StaticClient) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}
