package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// jsonBlockRE pulls the payload out of a ```json fenced block.
var jsonBlockRE = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// parseSignature extracts the fenced JSON block from a model reply and
// unmarshals it. Replies without a fence are tried as bare JSON.
func parseSignature(reply string) (*Signature, error) {
	payload := strings.TrimSpace(reply)
	if m := jsonBlockRE.FindStringSubmatch(payload); m != nil {
		payload = m[1]
	}

	var sig Signature
	if err := json.Unmarshal([]byte(payload), &sig); err != nil {
		return nil, fmt.Errorf("parse signature json: %w", err)
	}

	sig.Topic = strings.TrimSpace(sig.Topic)
	sig.PrimaryPhrase = strings.TrimSpace(sig.PrimaryPhrase)
	clean := sig.SecondaryPhrases[:0]
	for _, p := range sig.SecondaryPhrases {
		if p = strings.TrimSpace(p); p != "" {
			clean = append(clean, p)
		}
	}
	sig.SecondaryPhrases = clean
	if sig.EstimatedDate == "" {
		sig.EstimatedDate = "unknown"
	}
	return &sig, nil
}

// genericStoplist lists standalone words the prompt forbids but models
// still occasionally emit. A primary phrase reduced to one of these would
// overcount wildly and inflate the saturation score.
var genericStoplist = map[string]bool{
	"ai": true, "llm": true, "news": true, "tool": true, "tools": true,
	"update": true, "release": true, "launch": true, "model": true,
	"agent": true, "chatgpt": true, "amazing": true,
}

// validateSignature enforces the specificity contract structurally rather
// than trusting the prompt alone: the primary phrase must be multi-word
// and must not be a bare generic term.
func validateSignature(sig *Signature) error {
	if sig.PrimaryPhrase == "" {
		return fmt.Errorf("empty primary phrase")
	}
	words := strings.Fields(sig.PrimaryPhrase)
	if len(words) < 2 {
		if genericStoplist[strings.ToLower(words[0])] {
			return fmt.Errorf("primary phrase %q is a generic standalone word", sig.PrimaryPhrase)
		}
		// Single-word CJK phrases carry no space; only reject short ones.
		if len([]rune(sig.PrimaryPhrase)) < 4 {
			return fmt.Errorf("primary phrase %q is too unspecific", sig.PrimaryPhrase)
		}
	}
	return nil
}
