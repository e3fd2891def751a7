package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/openhire/interview-gateway/internal/store"
)

// ErrNotFound is returned when no session exists for the requested id.
var ErrNotFound = errors.New("session not found")

// ErrEmptyTranscript is returned when a session has no text turns to assess.
var ErrEmptyTranscript = errors.New("session has no text transcript")

// Store is the subset of persistence the generator reads and writes.
// Degraded reports optional schema columns the store could not write to
// during the session, so the report can flag incomplete turn metadata.
type Store interface {
	GetSession(ctx context.Context, id string) (*store.Session, error)
	ListMessages(ctx context.Context, sessionID string) ([]store.Message, error)
	SaveReport(ctx context.Context, rep *store.Report) error
	Degraded() []string
}

// Completer produces the assessment text from a prompt pair.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Config holds the LLM connection settings for report generation.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Generator builds recruiter-facing assessment reports from a completed
// session's transcript.
type Generator struct {
	db  Store
	llm Completer
}

func NewGenerator(db Store, llm Completer) *Generator {
	return &Generator{db: db, llm: llm}
}

// NewOpenAICompleter builds the production Completer against an
// OpenAI-compatible chat completion endpoint.
func NewOpenAICompleter(cfg Config) Completer {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = openai.ChatModelGPT4o
	}
	return &openaiCompleter{client: openai.NewClient(opts...), model: model}
}

type openaiCompleter struct {
	client openai.Client
	model  string
}

func (c *openaiCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

const systemPrompt = "You are an experienced technical recruiter writing candid, structured interview assessments for an HR audience."

// Generate builds, persists and returns the assessment report for a
// session. The transcript is the session's text turns in observation order;
// media turns contribute to the record but not to the analysis.
func (g *Generator) Generate(ctx context.Context, sessionID string) (*store.Report, error) {
	sess, err := g.db.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
		}
		return nil, err
	}

	msgs, err := g.db.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}

	var lines []string
	totalQuestions := 0
	for _, m := range msgs {
		if m.Role == store.RoleAssistant {
			totalQuestions++
		}
		if m.MediaKind != "" && m.MediaKind != "text" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrEmptyTranscript)
	}
	transcript := strings.Join(lines, "\n")

	content, err := g.llm.Complete(ctx, systemPrompt, buildPrompt(sess.Modality, transcript))
	if err != nil {
		return nil, fmt.Errorf("generate assessment: %w", err)
	}

	end := time.Now().UTC()
	if sess.EndTime != nil {
		end = *sess.EndTime
	}
	minutes := int(end.Sub(sess.StartTime).Minutes())

	// Make persistence gaps visible to the recruiter rather than silently
	// presenting a degraded record as complete.
	if cols := g.db.Degraded(); len(cols) > 0 {
		content += fmt.Sprintf("\n\n---\nNote: the storage schema was missing optional fields during this interview (%s); some turn metadata was not recorded.", strings.Join(cols, ", "))
	}

	rep := &store.Report{
		ID:                uuid.NewString(),
		SessionID:         sessionID,
		ApplicantID:       sess.ApplicantID,
		ReportContent:     content,
		InterviewDuration: fmt.Sprintf("%d minutes", minutes),
		TotalQuestions:    totalQuestions,
		GeneratedAt:       time.Now().UTC(),
		Status:            "completed",
		Modality:          sess.Modality,
	}
	if err := g.db.SaveReport(ctx, rep); err != nil {
		return nil, fmt.Errorf("persist report: %w", err)
	}
	return rep, nil
}

func buildPrompt(modality store.Modality, transcript string) string {
	var b strings.Builder
	if modality == store.ModalityVideo {
		b.WriteString("Analyze this VIDEO job interview conversation and provide a comprehensive report.\n\n")
		b.WriteString("Interview Type: Video Interview (with audio and visual analysis)\n")
	} else {
		b.WriteString("Analyze this job interview conversation and provide a comprehensive report.\n\n")
		b.WriteString("Interview Type: Text Interview\n")
	}
	b.WriteString("Interview Conversation:\n")
	b.WriteString(transcript)
	b.WriteString("\n\nPlease provide a detailed assessment including:\n\n")
	b.WriteString("1. **Overall Performance**: Rate the candidate's overall interview performance (1-10)\n")
	b.WriteString("2. **Communication Skills**: Assess verbal clarity, articulation, and professionalism\n")
	if modality == store.ModalityVideo {
		b.WriteString("3. **Visual Presentation**: Evaluate professional appearance, body language, and engagement\n")
	}
	b.WriteString("4. **Technical Competency**: Evaluate technical knowledge and skills demonstrated\n")
	b.WriteString("5. **Experience Relevance**: How well their experience matches the role\n")
	b.WriteString("6. **Cultural Fit**: Assessment of personality and cultural alignment\n")
	if modality == store.ModalityVideo {
		b.WriteString("7. **Confidence & Presence**: Video-specific assessment of candidate's presence\n")
	}
	b.WriteString("8. **Strengths**: Key strengths demonstrated during the interview\n")
	b.WriteString("9. **Areas for Improvement**: Constructive feedback and development areas\n")
	b.WriteString("10. **Recommendation**: Hire/Don't Hire with reasoning\n")
	b.WriteString("11. **Summary**: Brief overall summary and key takeaways\n\n")
	if modality == store.ModalityVideo {
		b.WriteString("Note: This was a video interview, so consider both verbal and non-verbal communication aspects.\n")
	}
	b.WriteString("Format the response as a professional interview assessment report.")
	return b.String()
}
