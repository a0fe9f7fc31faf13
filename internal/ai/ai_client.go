package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aiva/internal/logger"
	"aiva/internal/model"
	"aiva/internal/service"
)

type aiClient struct {
	provider   string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderGemini   = "gemini"
)

func NewAIClient(provider, apiKey string, logger *logger.Logger) service.AIClient {
	return NewAIClientWithBaseURL(provider, apiKey, getBaseURL(provider), logger)
}

// NewAIClientWithBaseURL points the client at a custom endpoint, e.g. a
// proxy or a test server.
func NewAIClientWithBaseURL(provider, apiKey, baseURL string, logger *logger.Logger) service.AIClient {
	return &aiClient{
		provider:   provider,
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 45 * time.Second},
		logger:     logger,
	}
}

// getBaseURL returns the appropriate API base URL based on the provider
func getBaseURL(provider string) string {
	switch provider {
	case ProviderDeepSeek:
		return "https://api.deepseek.com"
	case ProviderGemini:
		return "https://generativelanguage.googleapis.com/v1beta"
	default:
		return "https://api.openai.com/v1"
	}
}

// getModel returns the appropriate model based on the provider
func getModel(provider string) string {
	switch provider {
	case ProviderDeepSeek:
		return "deepseek-chat"
	case ProviderGemini:
		return "gemini-2.0-flash-lite"
	default:
		return "gpt-4o"
	}
}

// OpenAI/DeepSeek API request/response structures
type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   usage    `json:"usage"`
}

type choice struct {
	Index        int     `json:"index"`
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Gemini API request/response structures
type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content      geminiContentForResponse `json:"content"`
	FinishReason string                   `json:"finishReason"`
}

type geminiContentForResponse struct {
	Parts []geminiPart `json:"parts"`
}

const classifyPrompt = `You triage inbound business email. Classify the email below and reply with a single JSON object, no prose:
{"category": one of [customer_inquiry, customer_complaint, client_support, sales_lead, meeting_request, bill, invoice, payment_confirmation, authorization_code, sign_in_code, security_alert, internal, notification, marketing, junk_email, newsletter, personal, social, other],
 "priority": one of [urgent, high, medium, low, noise],
 "sentiment": one of [positive, neutral, negative, urgent],
 "actionability": one of [none, fyi, request, question, task],
 "confidence_score": number between 0 and 1,
 "summary": one or two sentences,
 "key_points": array of short strings}

Email:
%s`

const draftPrompt = `Write a reply to the email below on behalf of the recipient.
Tone: %s. Keep the reply under %d characters. Do not invent facts, prices or commitments.
Reply with a single JSON object, no prose:
{"body": the reply text, "confidence_score": number between 0 and 1 for how safe it is to send without review, "is_auto_sendable": boolean}

%sEmail from %s <%s>
Subject: %s

%s`

func (a *aiClient) Classify(ctx context.Context, excerpt string) (*model.Classification, error) {
	text, u, err := a.complete(ctx, fmt.Sprintf(classifyPrompt, excerpt), 400)
	if err != nil {
		return nil, fmt.Errorf("failed to classify email: %w", err)
	}

	var classification model.Classification
	if err := decodeJSON(text, &classification); err != nil {
		return nil, fmt.Errorf("failed to parse classification: %w", err)
	}
	classification.Usage = u

	a.logger.Debug("Classified email as:", classification.Category)
	return &classification, nil
}

func (a *aiClient) GenerateDraft(ctx context.Context, draftCtx *model.DraftContext, tone string) (*model.GeneratedDraft, error) {
	var thread strings.Builder
	if len(draftCtx.Thread) > 0 {
		thread.WriteString("Earlier messages in this thread, oldest first:\n")
		for _, entry := range draftCtx.Thread {
			fmt.Fprintf(&thread, "--- %s\n%s\n", entry.From, entry.Body)
		}
		thread.WriteString("---\n\n")
	}

	maxLength := draftCtx.MaxLength
	if maxLength <= 0 {
		maxLength = 1500
	}
	prompt := fmt.Sprintf(draftPrompt, tone, maxLength, thread.String(),
		draftCtx.SenderName, draftCtx.SenderEmail, draftCtx.Subject, draftCtx.Body)

	text, u, err := a.complete(ctx, prompt, 800)
	if err != nil {
		return nil, fmt.Errorf("failed to generate draft: %w", err)
	}

	var draft model.GeneratedDraft
	if err := decodeJSON(text, &draft); err != nil {
		return nil, fmt.Errorf("failed to parse draft: %w", err)
	}
	if strings.TrimSpace(draft.Body) == "" {
		return nil, fmt.Errorf("empty draft body returned")
	}
	draft.Usage = u

	a.logger.Debug("Generated draft of", len(draft.Body), "chars")
	return &draft, nil
}

// complete sends one prompt to the configured provider.
func (a *aiClient) complete(ctx context.Context, prompt string, maxTokens int) (string, model.Usage, error) {
	switch a.provider {
	case ProviderGemini:
		return a.completeWithGemini(ctx, prompt, maxTokens)
	default:
		return a.completeWithOpenAIStyle(ctx, prompt, maxTokens)
	}
}

func (a *aiClient) completeWithOpenAIStyle(ctx context.Context, prompt string, maxTokens int) (string, model.Usage, error) {
	request := chatCompletionRequest{
		Model: getModel(a.provider),
		Messages: []message{
			{
				Role:    "user",
				Content: prompt,
			},
		},
		MaxTokens: maxTokens,
	}

	resp, err := a.makeRequest(ctx, request)
	if err != nil {
		return "", model.Usage{}, err
	}
	if len(resp.Choices) == 0 {
		return "", model.Usage{}, fmt.Errorf("no choices returned from AI")
	}

	u := model.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), u, nil
}

func (a *aiClient) completeWithGemini(ctx context.Context, prompt string, maxTokens int) (string, model.Usage, error) {
	request := geminiRequest{
		Contents: []geminiContent{
			{
				Role:  "user",
				Parts: []geminiPart{{Text: prompt}},
			},
		},
		GenerationConfig: geminiGenerationConfig{MaxOutputTokens: maxTokens},
	}

	resp, err := a.makeGeminiRequest(ctx, request)
	if err != nil {
		return "", model.Usage{}, err
	}
	if len(resp.Candidates) == 0 {
		return "", model.Usage{}, fmt.Errorf("no candidates returned from Gemini")
	}
	if len(resp.Candidates[0].Content.Parts) == 0 {
		return "", model.Usage{}, fmt.Errorf("no content parts in Gemini response")
	}

	u := model.Usage{
		PromptTokens:     resp.UsageMetadata.PromptTokenCount,
		CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      resp.UsageMetadata.TotalTokenCount,
	}
	return strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text), u, nil
}

// makeRequest makes an HTTP request to the OpenAI/DeepSeek AI API
func (a *aiClient) makeRequest(ctx context.Context, request chatCompletionRequest) (*chatCompletionResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := a.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &chatResp, nil
}

// makeGeminiRequest makes an HTTP request to the Google Gemini API
func (a *aiClient) makeGeminiRequest(ctx context.Context, request geminiRequest) (*geminiResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", a.baseURL, getModel(a.provider))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("Gemini API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &geminiResp, nil
}

// decodeJSON extracts the first JSON object from a model reply, tolerating
// markdown fences and surrounding prose.
func decodeJSON(text string, v interface{}) error {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in response")
	}
	return json.Unmarshal([]byte(text[start:end+1]), v)
}
