package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/newsgauge/pkg/resilience"
)

func completionReply(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": content}},
		},
	}
}

const validReply = "Here you go:\n```json\n{\"topic\":\"Codex adds code review\"," +
	"\"primary_phrase\":\"Codex code review\"," +
	"\"secondary_phrases\":[\"Codex review agent\",\"\"]," +
	"\"estimated_date\":\"2026-08-29\"}\n```"

func newTestExtractor(url string) *Extractor {
	return New(Config{BaseURL: url, APIKey: "k", Timeout: time.Second}, nil)
}

func TestExtractParsesFencedSignature(t *testing.T) {
	var gotTemp float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotTemp = req["temperature"].(float64)
		json.NewEncoder(w).Encode(completionReply(validReply))
	}))
	defer srv.Close()

	sig, err := newTestExtractor(srv.URL).Extract(context.Background(), "some post text")
	require.NoError(t, err)
	assert.Equal(t, "Codex code review", sig.PrimaryPhrase)
	assert.Equal(t, []string{"Codex review agent"}, sig.SecondaryPhrases)
	assert.Equal(t, "2026-08-29", sig.EstimatedDate)
	assert.InDelta(t, 0.1, gotTemp, 1e-9)
}

func TestExtractRecoversAtHigherTemperature(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			json.NewEncoder(w).Encode(completionReply("sorry, no JSON today"))
			return
		}
		json.NewEncoder(w).Encode(completionReply(validReply))
	}))
	defer srv.Close()

	sig, err := newTestExtractor(srv.URL).Extract(context.Background(), "text")
	require.NoError(t, err)
	// Parse recovery happens within one network attempt, no backoff sleep.
	assert.Equal(t, 2, calls)
	assert.Equal(t, "Codex code review", sig.PrimaryPhrase)
}

func TestExtractFatalStatusDoesNotRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestExtractor(srv.URL).Extract(context.Background(), "text")
	assert.ErrorIs(t, err, ErrExtractionFailed)
	assert.Equal(t, 1, calls)
}

func TestExtractRejectsUnspecificPrimaryPhrase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionReply(
			"```json\n{\"topic\":\"x\",\"primary_phrase\":\"AI\"}\n```"))
	}))
	defer srv.Close()

	_, err := newTestExtractor(srv.URL).Extract(context.Background(), "text")
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestParseSignatureBareJSON(t *testing.T) {
	sig, err := parseSignature(`{"topic":"t","primary_phrase":"two words"}`)
	require.NoError(t, err)
	assert.Equal(t, "two words", sig.PrimaryPhrase)
	assert.Equal(t, "unknown", sig.EstimatedDate)
}

func TestValidateSignature(t *testing.T) {
	assert.Error(t, validateSignature(&Signature{PrimaryPhrase: ""}))
	assert.Error(t, validateSignature(&Signature{PrimaryPhrase: "AI"}))
	assert.Error(t, validateSignature(&Signature{PrimaryPhrase: "GPT"}))
	assert.NoError(t, validateSignature(&Signature{PrimaryPhrase: "Codex code review"}))
	// Spaceless CJK phrases are legitimate when long enough.
	assert.NoError(t, validateSignature(&Signature{PrimaryPhrase: "生成AI規制法案"}))
}

func TestClassify(t *testing.T) {
	v, hint := classify(&statusError{status: 429, retryAfter: 7 * time.Second})
	assert.Equal(t, resilience.Throttled, v)
	assert.Equal(t, 7*time.Second, hint)

	v, _ = classify(&statusError{status: 500})
	assert.Equal(t, resilience.Fatal, v)

	v, _ = classify(errMalformed)
	assert.Equal(t, resilience.Transient, v)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 12*time.Second, parseRetryAfter("12"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	// Non-numeric (HTTP-date form) values fall back to the schedule.
	assert.Equal(t, time.Duration(0), parseRetryAfter("Fri, 29 Aug 2026 09:00:00 GMT"))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "日本語テ", truncateRunes("日本語テキスト", 4))
	assert.Equal(t, "short", truncateRunes("short", 10))
}
