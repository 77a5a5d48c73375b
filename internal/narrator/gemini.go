package narrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"fincore/internal/config"
	"fincore/internal/logging"
)

// defaultModel is used when the config omits one.
const defaultModel = "gemini-2.5-flash"

// narrationTemperature keeps generation near-deterministic. The narrator
// paraphrases fixed figures; creativity here only risks grounding failures.
const narrationTemperature = float32(0.2)

// maxAttempts bounds the retry loop around transient API failures.
const maxAttempts = 3

// GeminiNarrator narrates through the Gemini API. Safe for concurrent use;
// the underlying client manages its own connections.
type GeminiNarrator struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiNarrator builds a narrator from config. A missing API key is a
// constructor error so the engine can degrade to the fallback composer at
// startup instead of failing per request.
func NewGeminiNarrator(ctx context.Context, cfg config.NarratorConfig) (*GeminiNarrator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini narrator requires an API key (set GEMINI_API_KEY or narrator.api_key)")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	timeout := 45 * time.Second
	if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
		timeout = d
	}

	logging.Narrator("Gemini narrator ready: model=%s timeout=%s", model, timeout)
	return &GeminiNarrator{client: client, model: model, timeout: timeout}, nil
}

// Model returns the model name narrations are sent to.
func (n *GeminiNarrator) Model() string {
	return n.model
}

// Narrate renders the request into prose via the Gemini API. The returned
// text is already cleaned; the caller still validates it against the fact
// set before letting it out.
func (n *GeminiNarrator) Narrate(ctx context.Context, req *Request) (string, error) {
	timer := logging.StartTimer(logging.CategoryNarrator, "gemini narration")
	defer timer.Stop()

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	prompt := BuildPrompt(req)
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	genCfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(narrationTemperature),
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			// Exponential backoff between attempts: 1s, 2s.
			wait := time.Duration(1<<uint(attempt-2)) * time.Second
			logging.NarratorDebug("Retrying narration in %s (attempt %d/%d)", wait, attempt, maxAttempts)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}

		start := time.Now()
		resp, err := n.client.Models.GenerateContent(ctx, n.model, contents, genCfg)
		elapsed := time.Since(start)

		if err != nil {
			lastErr = err
			logging.NarratorWarn("Gemini call failed (attempt %d/%d): %v", attempt, maxAttempts, err)
			logging.Audit().LLMCall(n.model, 0, elapsed.Milliseconds(), false, err.Error())
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}

		text := collectText(resp)
		if text == "" {
			lastErr = fmt.Errorf("gemini returned no text candidates")
			logging.NarratorWarn("Empty narration (attempt %d/%d)", attempt, maxAttempts)
			logging.Audit().LLMCall(n.model, tokenCount(resp), elapsed.Milliseconds(), false, "empty response")
			continue
		}

		logging.Audit().LLMCall(n.model, tokenCount(resp), elapsed.Milliseconds(), true, "")
		logging.NarratorDebug("Narration received: %d bytes in %s", len(text), elapsed)
		return Clean(text), nil
	}

	return "", fmt.Errorf("narration failed after %d attempts: %w", maxAttempts, lastErr)
}

// collectText concatenates the text parts of the first candidate.
func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func tokenCount(resp *genai.GenerateContentResponse) int {
	if resp == nil || resp.UsageMetadata == nil {
		return 0
	}
	return int(resp.UsageMetadata.TotalTokenCount)
}
