package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

const defaultModel = "gpt-4o-mini"

const systemPrompt = `You are an SEO analyst reviewing A/B-style experiments on
handmade marketplace listings. You receive a JSON payload with a reporting
window and the experiments finalized inside it: the change each one made, the
pre-change listing fields, whether it was kept or reverted, and its
seasonality-normalized evaluation.

Write a concise markdown report covering wins, losses, and the strategies the
shop owner should repeat or avoid. Then extract the standalone insights.

Respond with a JSON object of the form:
{"report": {"report_markdown": "### Summary\n- ..."},
 "insights": [{"summary": "what worked or failed, one sentence",
   "reasoning": "why, grounded in the numbers"}]}

Be data-driven; never invent numbers that are not in the payload.`

// OpenAISummarizer asks a chat model for the report and parses its JSON
// response.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

func NewOpenAISummarizer(apiKey, model string) (*OpenAISummarizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is not set")
	}
	if model == "" {
		model = defaultModel
		slog.Warn("report model not set, using default", "model", defaultModel)
	}
	return &OpenAISummarizer{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

func (s *OpenAISummarizer) Model() string {
	return s.model
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, input string) (*Summary, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI returned no choices")
	}

	summary, err := ParseSummary([]byte(resp.Choices[0].Message.Content))
	if err != nil {
		return nil, err
	}
	slog.Debug("generated experiment report", "model", s.model, "insights", len(summary.Insights))
	return summary, nil
}

type wireInsight struct {
	Summary   string `json:"summary"`
	Text      string `json:"text"`
	Reasoning string `json:"reasoning"`
}

type wireSummary struct {
	Report struct {
		Markdown string `json:"report_markdown"`
	} `json:"report"`
	Insights []wireInsight `json:"insights"`
}

// ParseSummary decodes the model's JSON response. Models sometimes label an
// insight "text" instead of "summary"; both are accepted.
func ParseSummary(data []byte) (*Summary, error) {
	var wire wireSummary
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode model response: %w", err)
	}

	summary := &Summary{Markdown: wire.Report.Markdown}
	for _, insight := range wire.Insights {
		text := insight.Summary
		if text == "" {
			text = insight.Text
		}
		if text == "" {
			continue
		}
		summary.Insights = append(summary.Insights, Insight{
			Summary:   text,
			Reasoning: insight.Reasoning,
		})
	}
	if summary.Markdown == "" && len(summary.Insights) == 0 {
		return nil, fmt.Errorf("model response contained no report")
	}
	return summary, nil
}
