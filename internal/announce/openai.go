package announce

import (
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openaiSpeechModel = openai.SpeechModelTTS1

// OpenAIProvider synthesizes announcements with the OpenAI speech API.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates an OpenAI speech provider.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIProvider{client: &client}
}

func (p *OpenAIProvider) Name() string {
	return string(openaiSpeechModel)
}

// Synthesize renders the text as audio via OpenAI.
func (p *OpenAIProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := p.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model: openaiSpeechModel,
		Input: text,
		Voice: openai.AudioSpeechNewParamsVoiceAlloy,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI speech request failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read OpenAI speech response: %w", err)
	}
	return audio, nil
}
