package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/zaibshamsi/Brofessor/internal/blob"
	"github.com/zaibshamsi/Brofessor/internal/logger"
)

const (
	chatSystemInstruction = `You are a helpful and friendly university assistant chatbot named Brofessor. You are having a conversation with a user. Your primary role is to answer the user's questions based *only* on the provided context.

- Your tone should be friendly, helpful, and slightly informal. Use emojis where appropriate.
- Do not use markdown formatting such as asterisks for bolding or italics.

You have been provided with two sources of information:
1. TIMETABLE CONTEXT: class schedules, times, locations and faculty names. This data is structured and changes frequently.
2. GENERAL KNOWLEDGE CONTEXT: all other information about the university, such as syllabus details, events and fees.

Decide first whether the question is about a class schedule, timetable or a faculty member's schedule.
- If it is, answer only from the TIMETABLE CONTEXT.
- Otherwise answer only from the GENERAL KNOWLEDGE CONTEXT.
If the information is not in the relevant context, say that you cannot find the answer in your documents, for example: "I couldn't find information about that in my documents 🤔. Is there anything else I can help with?". Do not use outside knowledge.
For greetings or chitchat, reply conversationally without consulting any context.`

	followUpSystemInstruction = `You analyze a conversation to decide whether the chatbot's answer likely came from a specific, downloadable document.

You are given the user's question, the chatbot's answer, and a list of available file names.
1. Decide whether the answer is specific enough to have originated from one of the listed files (for example course codes from a syllabus or dates from an academic calendar).
2. If there is a strong match, pick the single most relevant file name from the list, exactly as written.
3. On a match set is_document_related to true, set relevant_document_name, and write a natural follow_up_question such as "Would you like a link to the full syllabus?".
4. Otherwise set is_document_related to false. Do not guess. Greetings and general information are never a match.`

	extractionPrompt = `You are an expert data extraction AI. Extract all textual information from the provided document.

1. Read the entire document.
2. Extract every piece of text, including headers, footers, table contents and body text.
3. Preserve the original paragraph and line breaks.
4. If the document contains no text (for example it is a pure image), return exactly the string '` + NoTextFound + `'. Do not return an empty string.
5. Output only the extracted text, without commentary.`
)

// LLMService is the Gemini-backed model gateway: answer streaming, follow-up
// classification and document text extraction.
type LLMService struct {
	log       *logger.Logger
	client    *genai.Client
	modelName string
}

func NewLLMService(ctx context.Context, log *logger.Logger, apiKey, modelName string) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &LLMService{
		log:       log.With("service", "LLMService"),
		client:    client,
		modelName: modelName,
	}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.log.Warn("Error closing GenAI client", "error", err)
		} else {
			s.log.Info("GenAI client closed")
		}
	}
}

func (s *LLMService) StreamAnswer(ctx context.Context, history []Message, question, knowledgeContext, scheduleContext string) (TextStream, error) {
	model := s.client.GenerativeModel(s.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(chatSystemInstruction)},
	}
	model.SetTemperature(0.1)
	model.SetTopP(0.9)
	model.SetTopK(10)

	chatSession := model.StartChat()
	chatSession.History = toGeminiHistory(history)

	return &geminiStream{it: chatSession.SendMessageStream(ctx, genai.Text(buildUserPrompt(question, knowledgeContext, scheduleContext)))}, nil
}

func buildUserPrompt(question, knowledgeContext, scheduleContext string) string {
	return fmt.Sprintf("TIMETABLE CONTEXT:\n---\n%s\n---\n\nGENERAL KNOWLEDGE CONTEXT:\n---\n%s\n---\n\nUSER QUESTION:\n%s",
		scheduleContext, knowledgeContext, question)
}

// toGeminiHistory maps the transcript to Gemini roles, merging consecutive
// turns of the same role since the API expects them to alternate.
func toGeminiHistory(history []Message) []*genai.Content {
	var out []*genai.Content
	for _, msg := range history {
		role := "model"
		if msg.Sender == SenderUser {
			role = "user"
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, genai.Text(msg.Text))
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Text)}})
	}
	return out
}

type geminiStream struct {
	it *genai.GenerateContentResponseIterator
}

func (g *geminiStream) Next() (string, error) {
	resp, err := g.it.Next()
	if errors.Is(err, iterator.Done) {
		return "", iterator.Done
	}
	if err != nil {
		return "", fmt.Errorf("gemini stream failed: %w", err)
	}
	return responseText(resp), nil
}

type followUpAnalysis struct {
	IsDocumentRelated    bool   `json:"is_document_related"`
	RelevantDocumentName string `json:"relevant_document_name"`
	FollowUpQuestion     string `json:"follow_up_question"`
}

func (s *LLMService) SuggestFollowUp(ctx context.Context, question, answer string, candidates []string) (*FollowUp, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	model := s.client.GenerativeModel(s.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(followUpSystemInstruction)},
	}
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"is_document_related": {
				Type:        genai.TypeBoolean,
				Description: "True if the chatbot's answer is clearly derived from one of the available documents.",
			},
			"relevant_document_name": {
				Type:        genai.TypeString,
				Description: "The exact file name from the provided list. Only include if is_document_related is true.",
			},
			"follow_up_question": {
				Type:        genai.TypeString,
				Description: "A friendly question offering a link to the full document. Only include if is_document_related is true.",
			},
		},
		Required: []string{"is_document_related"},
	}

	names, err := json.Marshal(candidates)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("User Question: %q\n\nChatbot Answer: %q\n\nAvailable Files: %s", question, answer, names)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini follow-up analysis failed: %w", err)
	}
	return parseFollowUp(responseText(resp), candidates)
}

// parseFollowUp decodes the classifier's JSON and keeps the result only when
// it names one of the candidates exactly.
func parseFollowUp(raw string, candidates []string) (*FollowUp, error) {
	var analysis followUpAnalysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &analysis); err != nil {
		return nil, fmt.Errorf("failed to decode follow-up analysis: %w", err)
	}
	name := strings.TrimSpace(analysis.RelevantDocumentName)
	question := strings.TrimSpace(analysis.FollowUpQuestion)
	if !analysis.IsDocumentRelated || name == "" || question == "" {
		return nil, nil
	}
	for _, c := range candidates {
		if c == name {
			return &FollowUp{Question: question, FileName: name}, nil
		}
	}
	return nil, nil
}

func (s *LLMService) ExtractText(ctx context.Context, b blob.Blob) (string, error) {
	if len(b.Data) == 0 {
		return "", fmt.Errorf("document %q is empty", b.Name)
	}
	model := s.client.GenerativeModel(s.modelName)
	resp, err := model.GenerateContent(ctx,
		genai.Text(extractionPrompt),
		genai.Blob{MIMEType: b.ContentType, Data: b.Data},
	)
	if err != nil {
		return "", fmt.Errorf("gemini text extraction failed: %w", err)
	}
	return responseText(resp), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}
	return text.String()
}
