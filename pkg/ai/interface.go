package ai

import "context"

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOllama ProviderType = "ollama"
	ProviderOpenAI ProviderType = "openai"
	ProviderAuto   ProviderType = "auto"
)

// Provider generates raw text constrained by a JSON schema.
// Implement this interface to add new AI providers.
type Provider interface {
	Name() string
	Generate(ctx context.Context, system, prompt string, schema map[string]any) (string, error)
}

// Classifier turns a classification request into parsed per-message results
type Classifier interface {
	Classify(ctx context.Context, req ClassificationRequest) ([]ClassifiedMessage, error)
}

// ClassificationRequest is one structured request covering a chunk of messages.
// A nil Schema means ClassificationSchema().
type ClassificationRequest struct {
	SystemInstructions string
	Prompt             string
	Schema             map[string]any
}

// ClassifiedMessage is the model's verdict for one message
type ClassifiedMessage struct {
	ID       string  `json:"id" jsonschema:"description=The message id exactly as given in the request"`
	Category string  `json:"category" jsonschema:"enum=unknown,enum=personal,enum=work,enum=receipt,enum=promo,enum=notification,enum=spamLike"`
	Score    float64 `json:"score" jsonschema:"minimum=0,maximum=1,description=Likelihood the user wants this message deleted"`
	Reason   string  `json:"reason" jsonschema:"description=One short sentence explaining the score"`
}

// ClassificationOutput is the envelope the model must return
type ClassificationOutput struct {
	Results []ClassifiedMessage `json:"results"`
}
