package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/listing-lab/listing-lab/internal/store"
)

const defaultModel = "gpt-4o-mini"

const systemPrompt = `You are an SEO specialist for handmade marketplace listings.
Given a listing's title, description, tags, image ids, and its prior experiment
outcomes, propose exactly 3 single-variable experiments. Each experiment changes
exactly one of: title, description, tags, thumbnail ordering.

Respond with a JSON object of the form:
{"experiments": [{"change_type": "title|description|tags|thumbnail",
  "payload": {...}, "hypothesis": "..."}]}

Payload fields per change_type:
- title: {"new_title": "..."}
- description: {"new_description": "..."}
- tags: {"tags_to_add": [...], "tags_to_remove": [...]} (at most 4 combined)
- thumbnail: {"new_ordering": [image ids, first 3 only]}

Never repeat a change that a prior experiment already tested and reverted.`

// OpenAIGenerator asks a chat model for proposal options and parses its
// JSON response.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(apiKey, model string) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is not set")
	}
	if model == "" {
		model = defaultModel
		slog.Warn("generation model not set, using default", "model", defaultModel)
	}
	return &OpenAIGenerator{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

func (g *OpenAIGenerator) Model() string {
	return g.model
}

func (g *OpenAIGenerator) Generate(ctx context.Context, listing *store.Listing, images []store.Image, prior []*store.Experiment) ([]Option, error) {
	userPrompt, err := buildUserPrompt(listing, images, prior)
	if err != nil {
		return nil, err
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
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

	options, err := ParseOptions([]byte(resp.Choices[0].Message.Content))
	if err != nil {
		return nil, err
	}
	slog.Debug("generated proposal options", "listing_id", listing.ID, "model", g.model)
	return options, nil
}

type wireOption struct {
	ChangeType string          `json:"change_type"`
	Payload    json.RawMessage `json:"payload"`
	Hypothesis string          `json:"hypothesis"`
}

type wireResponse struct {
	Experiments []wireOption `json:"experiments"`
}

// ParseOptions decodes the model's JSON response and enforces the
// exactly-three contract.
func ParseOptions(data []byte) ([]Option, error) {
	var resp wireResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode model response: %w", err)
	}
	if len(resp.Experiments) != store.BundleSize {
		return nil, fmt.Errorf("model response must contain exactly %d experiment options, got %d",
			store.BundleSize, len(resp.Experiments))
	}

	options := make([]Option, 0, store.BundleSize)
	for i, wire := range resp.Experiments {
		change, err := decodeWireChange(wire)
		if err != nil {
			return nil, fmt.Errorf("option %d: %w", i, err)
		}
		options = append(options, Option{Change: change, Hypothesis: wire.Hypothesis})
	}
	return options, nil
}

func decodeWireChange(wire wireOption) (store.Change, error) {
	if wire.ChangeType == "" {
		return nil, fmt.Errorf("missing change_type")
	}
	// Fold the payload object into the tagged envelope DecodeChange expects.
	var fields map[string]json.RawMessage
	if len(wire.Payload) > 0 {
		if err := json.Unmarshal(wire.Payload, &fields); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	fields["change_type"] = json.RawMessage(strconv.Quote(wire.ChangeType))
	envelope, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	change, err := store.DecodeChange(envelope)
	if err != nil {
		return nil, err
	}
	// Clamp oversized model output: 3 thumbnail slots, 4 tag ops.
	switch v := change.(type) {
	case store.ThumbnailChange:
		if len(v.NewOrdering) > 3 {
			v.NewOrdering = v.NewOrdering[:3]
		}
		return v, nil
	case store.TagsChange:
		if len(v.TagsToAdd) > 4 {
			v.TagsToAdd = v.TagsToAdd[:4]
		}
		if len(v.TagsToRemove) > 4 {
			v.TagsToRemove = v.TagsToRemove[:4]
		}
		return v, nil
	}
	return change, nil
}

func buildUserPrompt(listing *store.Listing, images []store.Image, prior []*store.Experiment) (string, error) {
	imageIDs := store.ImageIDs(images)
	idStrings := make([]string, 0, len(imageIDs))
	for _, id := range imageIDs {
		idStrings = append(idStrings, strconv.FormatInt(id, 10))
	}

	priorJSON := []byte("[]")
	if len(prior) > 0 {
		encoded, err := json.MarshalIndent(prior, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to encode prior experiments: %w", err)
		}
		priorJSON = encoded
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", listing.Title)
	fmt.Fprintf(&b, "Description: %s\n", listing.Description)
	fmt.Fprintf(&b, "Tags: %s\n", strings.Join(listing.Tags, ", "))
	fmt.Fprintf(&b, "Image ids (in current order): %s\n", strings.Join(idStrings, ", "))
	fmt.Fprintf(&b, "Prior experiments:\n%s\n", priorJSON)
	return b.String(), nil
}
