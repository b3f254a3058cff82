// Package answer refines a question, retrieves context for it and asks a model for the answer.
package answer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/go-logr/logr"

	"docqa/src/core/index"
	"docqa/src/core/rag"
)

var (
	refineTmpl = template.Must(template.New("refine").Parse(RefineQuestionPromptTmpl))
	answerTmpl = template.Must(template.New("answer").Parse(AnswerPromptTmpl))
)

// TemplateData holds the values the prompt templates use
type TemplateData struct {
	Question string
	Context  string
}

type Answer struct {
	Question        string                `json:"question"`
	RefinedQuestion string                `json:"refinedQuestion"`
	Text            string                `json:"answer"`
	Sources         []rag.RetrievalResult `json:"sources"`
}

// Retriever finds the chunks of idx relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, idx index.Index, question string, k int) ([]rag.RetrievalResult, error)
}

type Service struct {
	generator rag.Generator
	retriever Retriever
	log       logr.Logger
}

func NewService(generator rag.Generator, retriever Retriever, logger logr.Logger) *Service {
	return &Service{
		generator: generator,
		retriever: retriever,
		log:       logger.WithName("answer"),
	}
}

func render(t *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", t.Name(), err)
	}
	return buf.String(), nil
}

// Refine asks the model to restate question more clearly. An empty reply keeps the original.
func (s *Service) Refine(ctx context.Context, question string) (string, error) {
	prompt, err := render(refineTmpl, TemplateData{Question: question})
	if err != nil {
		return "", &rag.GenerationError{Stage: rag.StageRefine, Err: err}
	}

	refined, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return "", &rag.GenerationError{Stage: rag.StageRefine, Err: err}
	}
	refined = strings.TrimSpace(refined)
	if refined == "" {
		return question, nil
	}
	return refined, nil
}

// Answer asks the model to answer question from the texts of sources.
func (s *Service) Answer(ctx context.Context, question string, sources []rag.RetrievalResult) (string, error) {
	texts := make([]string, len(sources))
	for i, src := range sources {
		texts[i] = src.Chunk.Text
	}

	prompt, err := render(answerTmpl, TemplateData{
		Question: question,
		Context:  strings.Join(texts, "\n\n"),
	})
	if err != nil {
		return "", &rag.GenerationError{Stage: rag.StageAnswer, Err: err}
	}

	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return "", &rag.GenerationError{Stage: rag.StageAnswer, Err: err}
	}
	return strings.TrimSpace(text), nil
}

// Ask refines question, retrieves k chunks for the refined question and answers it.
func (s *Service) Ask(ctx context.Context, idx index.Index, question string, k int) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", rag.ErrInvalidRequest)
	}

	refined, err := s.Refine(ctx, question)
	if err != nil {
		return nil, err
	}
	s.log.V(1).Info("question refined", "question", question, "refined", refined)

	sources, err := s.retriever.Retrieve(ctx, idx, refined, k)
	if err != nil {
		return nil, err
	}

	text, err := s.Answer(ctx, refined, sources)
	if err != nil {
		return nil, err
	}

	return &Answer{
		Question:        question,
		RefinedQuestion: refined,
		Text:            text,
		Sources:         sources,
	}, nil
}
