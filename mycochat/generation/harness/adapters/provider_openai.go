package adapters

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/sourcegraph/conc/panics"

	ports "github.com/ellenlodin/Mushroom-Chatbot/mycochat/generation/harness/ports"
)

// OpenAIProvider implements Provider against any OpenAI-compatible chat
// completions endpoint, Gemini's included.
type OpenAIProvider struct {
	client openai.Client
}

// OpenAISettings configures the provider.
type OpenAISettings struct {
	APIKey  string
	BaseURL string
	Options []option.RequestOption // extra transport options, e.g. retries
}

// NewOpenAIProvider builds a provider from settings.
func NewOpenAIProvider(cfg OpenAISettings) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key missing; provide llm.api_key or GEMINI_API_KEY")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, cfg.Options...)
	return &OpenAIProvider{client: openai.NewClient(opts...)}, nil
}

// Complete issues a single chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	resp, err := p.client.Chat.Completions.New(ctx, buildParams(in, opts))
	if err != nil {
		return ports.Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return ports.Completion{}, errors.New("openai: empty choices")
	}
	return ports.Completion{
		Text: resp.Choices[0].Message.Content,
		Raw:  resp,
		Usage: &ports.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Stream opens a streaming chat completion. The channel closes after the final
// chunk, an error chunk, or ctx cancellation.
func (p *OpenAIProvider) Stream(ctx context.Context, in ports.PromptInput, opts ports.Options) (<-chan ports.CompletionChunk, error) {
	params := buildParams(in, opts)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	ch := make(chan ports.CompletionChunk)
	go func() {
		defer close(ch)
		defer stream.Close()

		send := func(c ports.CompletionChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var pc panics.Catcher
		pc.Try(func() {
			var usage *ports.Usage
			for stream.Next() {
				chunk := stream.Current()
				if chunk.Usage.TotalTokens > 0 {
					usage = &ports.Usage{
						PromptTokens:     int(chunk.Usage.PromptTokens),
						CompletionTokens: int(chunk.Usage.CompletionTokens),
						TotalTokens:      int(chunk.Usage.TotalTokens),
					}
				}
				if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
					continue
				}
				if !send(ports.CompletionChunk{DeltaText: chunk.Choices[0].Delta.Content}) {
					return
				}
			}
			if err := stream.Err(); err != nil {
				send(ports.CompletionChunk{Err: err})
				return
			}
			send(ports.CompletionChunk{Done: true, Usage: usage})
		})
		if r := pc.Recovered(); r != nil {
			send(ports.CompletionChunk{Err: fmt.Errorf("stream reader panicked: %w", r.AsError())})
		}
	}()
	return ch, nil
}

func buildParams(in ports.PromptInput, opts ports.Options) openai.ChatCompletionNewParams {
	var msgs []openai.ChatCompletionMessageParamUnion
	if in.System != "" {
		msgs = append(msgs, openai.SystemMessage(in.System))
	}
	for _, t := range in.Turns {
		msgs = append(msgs, toMessage(t))
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(opts.Model),
		Messages:    msgs,
		Temperature: openai.Float(float64(opts.Temperature)),
	}
	if opts.MaxNewTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxNewTokens))
	}
	if opts.ResponseSchema != nil {
		name := opts.SchemaName
		if name == "" {
			name = "response"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: opts.ResponseSchema,
					Strict: openai.Bool(true),
				},
			},
		}
	}
	return params
}

// toMessage maps a turn to a chat message. Assistant turns carry text only;
// user turns keep their images as data URLs.
func toMessage(t ports.Turn) openai.ChatCompletionMessageParamUnion {
	if t.Role == ports.RoleAssistant {
		return openai.ChatCompletionMessageParamOfAssistant(t.Text())
	}
	media := t.Media()
	if len(media) == 0 {
		return openai.UserMessage(t.Text())
	}

	var parts []openai.ChatCompletionContentPartUnionParam
	for _, f := range t.Fragments {
		switch f.Kind {
		case ports.FragmentText:
			parts = append(parts, openai.TextContentPart(f.Text))
		case ports.FragmentMedia:
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: DataURL(f),
			}))
		}
	}
	return openai.UserMessage(parts)
}

// DataURL encodes a media fragment as a base64 data URL.
func DataURL(f ports.Fragment) string {
	return "data:" + f.ContentType + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}

// Ensure OpenAIProvider implements the Provider interface.
var _ ports.Provider = (*OpenAIProvider)(nil)
