package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/service"
)

// Config defines options for the AI client.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Logger    zerolog.Logger
}

// Client talks to an OpenAI-compatible chat endpoint for question
// generation and discursive grading. Both calls force JSON responses;
// anything the model returns that does not parse is a total failure, the
// caller decides what to show instead.
type Client struct {
	client *openai.Client
	cfg    Config
	log    zerolog.Logger
}

// NewClient builds the AI client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "ai_client").Logger(),
	}, nil
}

// GenerateQuestions implements service.QuestionGenerator.
func (c *Client) GenerateQuestions(ctx context.Context, req service.GenerationRequest) ([]model.Question, error) {
	content, err := c.complete(ctx, generatorSystemPrompt(), buildGenerationPrompt(req))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Questions []model.Question `json:"questoes"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("parse generation json: %w", err)
	}
	if len(payload.Questions) == 0 {
		return nil, fmt.Errorf("model returned no questions")
	}

	for i := range payload.Questions {
		if payload.Questions[i].ID == "" {
			payload.Questions[i].ID = fmt.Sprintf("%d", i+1)
		}
	}
	return payload.Questions, nil
}

// GradeBatch implements service.DiscursiveGrader.
func (c *Client) GradeBatch(ctx context.Context, items []service.GradingItem) ([]service.GradingResult, error) {
	content, err := c.complete(ctx, graderSystemPrompt(), buildGradingPrompt(items))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results []service.GradingResult `json:"resultados"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("parse grading json: %w", err)
	}

	// Keep only results that answer an item we actually sent.
	requested := make(map[string]struct{}, len(items))
	for _, item := range items {
		requested[item.ID] = struct{}{}
	}
	results := payload.Results[:0]
	for _, r := range payload.Results {
		if _, ok := requested[r.ID]; ok {
			results = append(results, r)
		}
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("model graded none of the requested items")
	}
	return results, nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func generatorSystemPrompt() string {
	return "Você é um gerador de questões de prova. Responda com um objeto JSON " +
		`{"questoes": [...]}. Cada questão tem os campos id, texto, tipo ("objetiva" ou "discursiva"), ` +
		`alternativas (lista de {id, texto, correta}, apenas para objetivas, exatamente uma correta) ` +
		"e respostaCorreta (gabarito em texto, apenas para discursivas)."
}

func buildGenerationPrompt(req service.GenerationRequest) string {
	b := strings.Builder{}
	fmt.Fprintf(&b, "Gere %d questões.\n", req.Count)
	fmt.Fprintf(&b, "Disciplina: %s\n", req.Subject)
	fmt.Fprintf(&b, "Tópico: %s\n", req.Topic)
	fmt.Fprintf(&b, "Nível: %s\n", req.Level)
	if req.QuestionTypeMix != "" {
		fmt.Fprintf(&b, "Tipo de questão: %s\n", req.QuestionTypeMix)
	}
	if req.ExtraInstructions != "" {
		fmt.Fprintf(&b, "Instruções adicionais: %s\n", req.ExtraInstructions)
	}
	b.WriteString("Responda em JSON.")
	return b.String()
}

func graderSystemPrompt() string {
	return "Você corrige questões discursivas. Para cada item, compare a resposta do aluno com o gabarito " +
		`e atribua uma nota de 0 a 10. Responda com um objeto JSON {"resultados": ` +
		`[{"id": "...", "score": 0-10, "comment": "justificativa curta"}]}.`
}

func buildGradingPrompt(items []service.GradingItem) string {
	b := strings.Builder{}
	b.WriteString("Corrija os itens abaixo.\n")
	for _, item := range items {
		fmt.Fprintf(&b, "\n## Item %s\nEnunciado: %s\nGabarito: %s\nResposta do aluno: %s\n",
			item.ID, item.Prompt, item.ModelAnswer, item.StudentAnswer)
	}
	b.WriteString("\nResponda em JSON.")
	return b.String()
}

// DemoQuestions is the clearly-labeled placeholder used when generation
// fails: every title carries a [DEMO] tag so nobody mistakes it for real
// AI output.
func DemoQuestions(req service.GenerationRequest) []model.Question {
	count := req.Count
	if count < 1 {
		count = 1
	}
	questions := make([]model.Question, 0, count)
	for i := 1; i <= count; i++ {
		if req.QuestionTypeMix == "discursiva" || (req.QuestionTypeMix == "mista" && i%2 == 0) {
			questions = append(questions, model.Question{
				ID:          fmt.Sprintf("%d", i),
				Text:        fmt.Sprintf("[DEMO] Questão discursiva %d sobre %s.", i, req.Topic),
				Type:        model.QuestionDiscursive,
				ModelAnswer: "[DEMO] Gabarito de exemplo.",
			})
			continue
		}
		questions = append(questions, model.Question{
			ID:   fmt.Sprintf("%d", i),
			Text: fmt.Sprintf("[DEMO] Questão objetiva %d sobre %s.", i, req.Topic),
			Type: model.QuestionObjective,
			Alternatives: []model.Alternative{
				{ID: fmt.Sprintf("%da", i), Text: "[DEMO] Alternativa A", Correct: true},
				{ID: fmt.Sprintf("%db", i), Text: "[DEMO] Alternativa B"},
				{ID: fmt.Sprintf("%dc", i), Text: "[DEMO] Alternativa C"},
			},
		})
	}
	return questions
}
