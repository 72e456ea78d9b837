package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/elonfeng/newsgauge/pkg/resilience"
)

// ErrExtractionFailed means the model could not be coerced into a valid
// signature after all retries. Callers must skip the item; this is never
// a zero-saturation result.
var ErrExtractionFailed = errors.New("topic extraction failed")

const (
	defaultBaseURL = "https://api.groq.com/openai"
	defaultModel   = "llama-3.3-70b-versatile"

	// maxInputChars bounds prompt cost for long posts.
	maxInputChars = 500
)

// temperatureLadder is the in-attempt parse recovery: a higher-temperature
// re-ask is the cheapest fix for a malformed JSON block.
var temperatureLadder = []float64{0.1, 0.3}

const extractionPrompt = `You are an expert at analyzing social news posts.
Identify the specific news, announcement, or release the post refers to and
produce search phrases for measuring how widely it has spread.

Rules:
- primary_phrase must be a 2-4 word phrase unique to THIS news item.
  A single product name is invalid ("Codex" matches every Codex post;
  "Codex code review" pins this story).
- secondary_phrases are fallback phrases, most specific first.
- Never use a generic standalone word ("AI", "tool", "amazing").
- Mixed-language phrases are allowed.

Post:
%s

Respond with exactly one fenced JSON block:
` + "```json" + `
{
  "topic": "one-line description of the news",
  "primary_phrase": "2-4 word phrase unique to this news",
  "secondary_phrases": ["fallback phrase 1", "fallback phrase 2"],
  "estimated_date": "YYYY-MM-DD or unknown"
}
` + "```"

// Signature is the searchable topic signature derived from one post.
// Created once, immutable, consumed once by the measurement engine.
type Signature struct {
	Topic            string   `json:"topic"`
	PrimaryPhrase    string   `json:"primary_phrase"`
	SecondaryPhrases []string `json:"secondary_phrases"`
	EstimatedDate    string   `json:"estimated_date"`
}

// Extractor derives topic signatures via an OpenAI-compatible
// chat-completion endpoint.
type Extractor struct {
	client  *http.Client
	baseURL string
	model   string
	apiKey  string
	retryer *resilience.Retryer
	logger  *zap.Logger
}

// Config for the extractor. Zero values fall back to the Groq endpoint
// and default model.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// New creates an Extractor. The retry classifier treats 429 as throttled
// (honoring Retry-After), transport errors as transient, and other HTTP
// failures as fatal for the attempt.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Extractor{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
	e.retryer = resilience.NewRetryer(3, resilience.DefaultBackoff, classify, logger)
	return e
}

// statusError carries the HTTP status of a failed completion call plus
// any Retry-After the provider supplied.
type statusError struct {
	status     int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("completion status %d", e.status)
}

// errMalformed marks an attempt where every temperature step produced an
// unparseable reply.
var errMalformed = errors.New("unparseable model reply")

func classify(err error) (resilience.Verdict, time.Duration) {
	var se *statusError
	if errors.As(err, &se) {
		if se.status == http.StatusTooManyRequests {
			return resilience.Throttled, se.retryAfter
		}
		return resilience.Fatal, 0
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return resilience.Transient, 0
	}
	if errors.Is(err, errMalformed) {
		return resilience.Transient, 0
	}
	// Connection resets and other transport problems.
	return resilience.Transient, 0
}

// Extract derives a Signature from raw post text. The input is truncated
// to bound prompt cost. Failures after all retries surface as
// ErrExtractionFailed.
func (e *Extractor) Extract(ctx context.Context, text string) (*Signature, error) {
	prompt := fmt.Sprintf(extractionPrompt, truncateRunes(text, maxInputChars))

	var sig *Signature
	err := e.retryer.Do(ctx, "extract_topic", func(ctx context.Context) error {
		for i, temp := range temperatureLadder {
			reply, err := e.complete(ctx, prompt, temp)
			if err != nil {
				return err
			}
			parsed, err := parseSignature(reply)
			if err == nil {
				sig = parsed
				return nil
			}
			if i < len(temperatureLadder)-1 {
				e.logger.Warn("signature parse failed, raising temperature",
					zap.Float64("temperature", temp), zap.Error(err))
			}
		}
		return errMalformed
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	if err := validateSignature(sig); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	return sig, nil
}

func (e *Extractor) complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	payload := map[string]any{
		"model": e.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": temperature,
		"max_tokens":  300,
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &statusError{
			status:     resp.StatusCode,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("completion: no choices returned")
	}
	return result.Choices[0].Message.Content, nil
}

// parseRetryAfter tolerates non-numeric header values by returning zero.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
