// Package assistant answers questions using the persisted OCR and STT text
// as context, and optionally speaks the answer.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"ai-stream-fusion-service/internal/observability/logging"
	"ai-stream-fusion-service/internal/observability/metrics"
)

// Messages shown to the user instead of an error.
const (
	MsgApology  = "I'm sorry, I encountered an error processing your request. Please try again."
	MsgNoAnswer = "No response generated."
	MsgNoText   = "No text yet"
)

// SystemPrompt frames every completion request.
const SystemPrompt = "You are a helpful AI assistant."

const contextFraming = "You are an assistant that sees the presenter's board through a camera " +
	"(OCR) and hears the presenter through speech recognition (STT). Use both as context to " +
	"answer the viewer's question. Answer directly without describing or quoting the OCR or " +
	"STT data. The available data follows:"

// ErrNoSynthesizer is returned by Speak when no speech synthesizer is configured.
var ErrNoSynthesizer = errors.New("speech synthesis not configured")

// Completer produces a chat completion for a single prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Synthesizer converts text to encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Config holds the artifact paths the assistant reads.
type Config struct {
	OCRPath string
	STTPath string
}

// Assistant builds prompts from the artifacts and calls the collaborators.
// Safe for concurrent use; it only reads the artifacts.
type Assistant struct {
	cfg       Config
	completer Completer
	synth     Synthesizer
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// New creates an assistant. synth may be nil.
func New(cfg Config, completer Completer, synth Synthesizer, m *metrics.Metrics) *Assistant {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Assistant{
		cfg:       cfg,
		completer: completer,
		synth:     synth,
		metrics:   m,
		log:       logging.WithComponent("assistant"),
	}
}

// Ask answers question. Failures are logged and turned into MsgApology.
func (a *Assistant) Ask(ctx context.Context, question string) string {
	ocr, err := readArtifact(a.cfg.OCRPath)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to read OCR artifact")
		a.metrics.RecordAssistantRequest("chat", err)
		return MsgApology
	}
	stt, err := readArtifact(a.cfg.STTPath)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to read STT artifact")
		a.metrics.RecordAssistantRequest("chat", err)
		return MsgApology
	}

	if a.completer == nil {
		err := errors.New("chat completion not configured")
		a.log.Error().Err(err).Msg("Cannot answer question")
		a.metrics.RecordAssistantRequest("chat", err)
		return MsgApology
	}

	answer, err := a.completer.Complete(ctx, SystemPrompt, BuildPrompt(ocr, stt, question))
	a.metrics.RecordAssistantRequest("chat", err)
	if err != nil {
		a.log.Error().Err(err).Msg("Chat completion failed")
		return MsgApology
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return MsgNoAnswer
	}
	a.log.Info().Int("questionChars", len(question)).Int("answerChars", len(answer)).Msg("Answered question")
	return answer
}

// Speak synthesizes text. The error is suitable for showing to the user.
func (a *Assistant) Speak(ctx context.Context, text string) ([]byte, error) {
	if a.synth == nil {
		a.metrics.RecordAssistantRequest("speak", ErrNoSynthesizer)
		return nil, ErrNoSynthesizer
	}
	audio, err := a.synth.Synthesize(ctx, text)
	a.metrics.RecordAssistantRequest("speak", err)
	if err != nil {
		a.log.Error().Err(err).Msg("Speech synthesis failed")
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}
	return audio, nil
}

// BuildPrompt combines the framing, both artifacts and the question.
// Empty artifacts are described as having no text yet.
func BuildPrompt(ocrText, sttText, question string) string {
	ocrPart := "Text from the camera (OCR): " + MsgNoText
	if ocrText != "" {
		ocrPart = fmt.Sprintf("Text from the camera (OCR): %q", ocrText)
	}
	sttPart := "Text from the presenter's speech (STT): " + MsgNoText
	if sttText != "" {
		sttPart = fmt.Sprintf("Text from the presenter's speech (STT): %q", sttText)
	}
	userPart := fmt.Sprintf("The viewer asks: %q. Respond as their assistant, using the OCR and STT data above as context.", question)

	return strings.Join([]string{contextFraming, ocrPart, sttPart, userPart}, "\n\n")
}

// readArtifact returns the trimmed file content, or "" if the file does not
// exist yet.
func readArtifact(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
