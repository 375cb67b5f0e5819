package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Detection is the result of language detection.
type Detection struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// SentimentResult is the result of sentiment classification.
type SentimentResult struct {
	Sentiment   string  `json:"sentiment"`
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

// IntentEntity is an entity extracted during intent recognition. Start and
// End are rune offsets into the analyzed text as reported by the model;
// callers must validate them against the text bounds.
type IntentEntity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// IntentResult is the result of intent recognition.
type IntentResult struct {
	Intent     string         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Entities   []IntentEntity `json:"entities"`
}

// SummaryResult is the result of conversation summarization.
type SummaryResult struct {
	Summary       string   `json:"summary"`
	KeyPoints     []string `json:"key_points"`
	CustomerNeeds []string `json:"customer_needs"`
	ActionItems   []string `json:"action_items"`
}

// AnalysisProvider groups the classification and translation capabilities
// the reply pipeline depends on. Implementations must be safe for
// concurrent use and side-effect free per call.
type AnalysisProvider interface {
	DetectLanguage(ctx context.Context, text string) (*Detection, error)
	AnalyzeSentiment(ctx context.Context, text, language string) (*SentimentResult, error)
	RecognizeIntent(ctx context.Context, text, language string) (*IntentResult, error)
	Translate(ctx context.Context, text, targetLanguage, sourceLanguage string) (string, error)
	Summarize(ctx context.Context, messages []string) (*SummaryResult, error)
}

// PromptAnalyzer implements AnalysisProvider on top of a ChatProvider by
// prompting for strict JSON output and decoding it.
type PromptAnalyzer struct {
	chat ChatProvider
}

// NewPromptAnalyzer creates a PromptAnalyzer backed by the given chat
// provider.
func NewPromptAnalyzer(chat ChatProvider) *PromptAnalyzer {
	return &PromptAnalyzer{chat: chat}
}

const jsonOnlySystem = "You are an analysis engine. Respond with a single JSON object and nothing else. No prose, no markdown fences."

// DecodeJSON strips optional markdown fences and decodes a JSON model
// response into out.
func DecodeJSON(raw string, out any) error {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if i := strings.LastIndex(raw, "```"); i >= 0 {
			raw = raw[:i]
		}
		raw = strings.TrimSpace(raw)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode analysis response: %w", err)
	}
	return nil
}

// DetectLanguage classifies the language of the text.
func (a *PromptAnalyzer) DetectLanguage(ctx context.Context, text string) (*Detection, error) {
	prompt := fmt.Sprintf(
		`Detect the language of the following text. Return {"language": "<ISO 639-1 code>", "confidence": <0..1>}.

Text:
%s`, text)

	raw, err := a.chat.Generate(ctx, prompt, jsonOnlySystem)
	if err != nil {
		return nil, err
	}

	var result Detection
	if err := DecodeJSON(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AnalyzeSentiment classifies the sentiment of the text.
func (a *PromptAnalyzer) AnalyzeSentiment(ctx context.Context, text, language string) (*SentimentResult, error) {
	prompt := fmt.Sprintf(
		`Classify the sentiment of the following customer message%s.
Return {"sentiment": "positive"|"neutral"|"negative"|"frustrated", "score": <0..1>, "explanation": "<one sentence>"}.

Message:
%s`, languageHint(language), text)

	raw, err := a.chat.Generate(ctx, prompt, jsonOnlySystem)
	if err != nil {
		return nil, err
	}

	var result SentimentResult
	if err := DecodeJSON(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RecognizeIntent classifies the intent of the text and extracts entities.
func (a *PromptAnalyzer) RecognizeIntent(ctx context.Context, text, language string) (*IntentResult, error) {
	prompt := fmt.Sprintf(
		`Recognize the intent of the following customer message%s.
Return {"intent": "<label>", "confidence": <0..1>, "entities": [{"type": "<type>", "value": "<value>", "start": <rune offset>, "end": <rune offset>}]}.

Message:
%s`, languageHint(language), text)

	raw, err := a.chat.Generate(ctx, prompt, jsonOnlySystem)
	if err != nil {
		return nil, err
	}

	var result IntentResult
	if err := DecodeJSON(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Translate translates text into the target language.
func (a *PromptAnalyzer) Translate(ctx context.Context, text, targetLanguage, sourceLanguage string) (string, error) {
	source := "the source language"
	if sourceLanguage != "" {
		source = sourceLanguage
	}
	prompt := fmt.Sprintf(
		`Translate the following text from %s to %s. Return {"translation": "<translated text>"}.

Text:
%s`, source, targetLanguage, text)

	raw, err := a.chat.Generate(ctx, prompt, jsonOnlySystem)
	if err != nil {
		return "", err
	}

	var result struct {
		Translation string `json:"translation"`
	}
	if err := DecodeJSON(raw, &result); err != nil {
		return "", err
	}
	if result.Translation == "" {
		return "", fmt.Errorf("empty translation returned")
	}
	return result.Translation, nil
}

// Summarize produces a structured summary of a message history.
func (a *PromptAnalyzer) Summarize(ctx context.Context, messages []string) (*SummaryResult, error) {
	prompt := fmt.Sprintf(
		`Summarize the following conversation between a customer and support.
Return {"summary": "<short paragraph>", "key_points": [...], "customer_needs": [...], "action_items": [...]}.

Conversation:
%s`, strings.Join(messages, "\n"))

	raw, err := a.chat.Generate(ctx, prompt, jsonOnlySystem)
	if err != nil {
		return nil, err
	}

	var result SummaryResult
	if err := DecodeJSON(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func languageHint(language string) string {
	if language == "" || language == "und" {
		return ""
	}
	return fmt.Sprintf(" (language: %s)", language)
}

var _ AnalysisProvider = (*PromptAnalyzer)(nil)
