package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/zombor/expense-capture/internal/media"
)

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client     *genai.Client
	model      *genai.GenerativeModel
	categories []string
}

// NewGemini creates a new Gemini Scanner instance
func NewGemini(apiKey string, modelName string, categories []string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)

	return &Gemini{
		client:     client,
		model:      model,
		categories: categories,
	}, nil
}

// ScanExpenses analyzes a receipt image or PDF and extracts expenses
func (g *Gemini) ScanExpenses(ctx context.Context, data []byte, mimeType string) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pngData, _, err := media.ToPNG(data, mimeType)
	if err != nil {
		return nil, err
	}

	// genai.ImageData expects just the format suffix ("png"), not the full MIME type
	text, err := g.generate(ctx,
		genai.ImageData("png", pngData),
		genai.Text(imagePrompt(g.categories)),
	)
	if err != nil {
		return nil, err
	}

	candidates, err := parseCandidates(text)
	if err != nil {
		return nil, fmt.Errorf("parsing expense data: %w", err)
	}
	return candidates, nil
}

// ScanVoice extracts a single expense from a voice recording
func (g *Gemini) ScanVoice(ctx context.Context, audio []byte, mimeType string) (*Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	text, err := g.generate(ctx,
		genai.Blob{MIMEType: mimeType, Data: audio},
		genai.Text(voicePrompt(g.categories)),
	)
	if err != nil {
		return nil, err
	}

	candidate, err := parseSingleCandidate(text)
	if err != nil {
		return nil, fmt.Errorf("parsing voice expense: %w", err)
	}
	return candidate, nil
}

func (g *Gemini) generate(ctx context.Context, parts ...genai.Part) (string, error) {
	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	return responseText.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
