package announce

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const geminiSpeechModel = "gemini-2.5-flash-preview-tts"

// GeminiProvider synthesizes announcements with the Gemini speech models.
type GeminiProvider struct {
	client *genai.Client
	voice  string
}

// NewGeminiProvider creates a Gemini speech provider.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		client: client,
		voice:  "Kore",
	}, nil
}

func (p *GeminiProvider) Name() string {
	return geminiSpeechModel
}

// Synthesize renders the text as audio via Gemini.
func (p *GeminiProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: p.voice},
			},
		},
	}

	resp, err := p.client.Models.GenerateContent(ctx, geminiSpeechModel, genai.Text(text), config)
	if err != nil {
		return nil, fmt.Errorf("Gemini speech request failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("empty response from Gemini speech model")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data, nil
		}
	}
	return nil, errors.New("no audio data in Gemini response")
}
