package speech

import (
	"context"
	"errors"
	"fmt"

	"read2me/internal/config"

	"google.golang.org/genai"
)

// GeminiRenderer renders two-voice scripts with the Gemini speech models
type GeminiRenderer struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGeminiRenderer creates a renderer speaking with a fixed two-speaker voice profile
func NewGeminiRenderer(ctx context.Context, apiKey, model string, speakers ...config.Speaker) (*GeminiRenderer, error) {
	if apiKey == "" {
		return nil, errors.New("speech api key is required")
	}
	if len(speakers) == 0 {
		return nil, errors.New("at least one speaker is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating speech client: %w", err)
	}

	voices := make([]*genai.SpeakerVoiceConfig, 0, len(speakers))
	for _, s := range speakers {
		voices = append(voices, &genai.SpeakerVoiceConfig{
			Speaker: s.Name,
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: s.Voice},
			},
		})
	}

	return &GeminiRenderer{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &genai.SpeechConfig{
				MultiSpeakerVoiceConfig: &genai.MultiSpeakerVoiceConfig{
					SpeakerVoiceConfigs: voices,
				},
			},
		},
	}, nil
}

// WithModel returns a renderer sharing the client and voices but using another model
func (g *GeminiRenderer) WithModel(model string) *GeminiRenderer {
	cp := *g
	cp.model = model
	return &cp
}

func (g *GeminiRenderer) Render(ctx context.Context, script string) ([]byte, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(script), g.config)
	if err != nil {
		return nil, fmt.Errorf("error generating speech: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyAudio
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data, nil
		}
	}
	return nil, ErrEmptyAudio
}
