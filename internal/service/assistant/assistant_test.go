package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeCompleter struct {
	answer string
	err    error
	system string
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, system, prompt string) (string, error) {
	f.system, f.prompt = system, prompt
	return f.answer, f.err
}

type fakeSynth struct {
	audio []byte
	err   error
}

func (f *fakeSynth) Synthesize(context.Context, string) ([]byte, error) {
	return f.audio, f.err
}

func writeArtifacts(t *testing.T, ocr, stt string) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		OCRPath: filepath.Join(dir, "ocr_output.txt"),
		STTPath: filepath.Join(dir, "stt_output.txt"),
	}
	if ocr != "" {
		if err := os.WriteFile(cfg.OCRPath, []byte(ocr), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if stt != "" {
		if err := os.WriteFile(cfg.STTPath, []byte(stt), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return cfg
}

func TestAsk_BuildsPromptFromArtifacts(t *testing.T) {
	cfg := writeArtifacts(t, "E = mc^2", "energy equals mass (final)\n")
	c := &fakeCompleter{answer: "  It relates energy and mass.  "}
	a := New(cfg, c, nil, nil)

	got := a.Ask(context.Background(), "What is on the board?")

	if got != "It relates energy and mass." {
		t.Errorf("unexpected answer %q", got)
	}
	if c.system != SystemPrompt {
		t.Errorf("unexpected system prompt %q", c.system)
	}
	for _, want := range []string{`"E = mc^2"`, `energy equals mass (final)`, `"What is on the board?"`} {
		if !strings.Contains(c.prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, c.prompt)
		}
	}
}

func TestAsk_MissingArtifacts(t *testing.T) {
	cfg := writeArtifacts(t, "", "")
	c := &fakeCompleter{answer: "ok"}
	a := New(cfg, c, nil, nil)

	a.Ask(context.Background(), "anything?")

	if strings.Count(c.prompt, MsgNoText) != 2 {
		t.Errorf("expected both sections to say no text yet:\n%s", c.prompt)
	}
}

func TestAsk_FailuresBecomeApology(t *testing.T) {
	tests := []struct {
		name      string
		completer Completer
	}{
		{"completion error", &fakeCompleter{err: errors.New("rate limited")}},
		{"no completer", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(writeArtifacts(t, "x", "y"), tt.completer, nil, nil)
			if got := a.Ask(context.Background(), "q"); got != MsgApology {
				t.Errorf("expected apology, got %q", got)
			}
		})
	}
}

func TestAsk_EmptyAnswer(t *testing.T) {
	a := New(writeArtifacts(t, "x", "y"), &fakeCompleter{answer: " "}, nil, nil)
	if got := a.Ask(context.Background(), "q"); got != MsgNoAnswer {
		t.Errorf("expected %q, got %q", MsgNoAnswer, got)
	}
}

func TestSpeak(t *testing.T) {
	a := New(Config{}, nil, nil, nil)
	if _, err := a.Speak(context.Background(), "hi"); !errors.Is(err, ErrNoSynthesizer) {
		t.Errorf("expected ErrNoSynthesizer, got %v", err)
	}

	a = New(Config{}, nil, &fakeSynth{audio: []byte("mp3")}, nil)
	audio, err := a.Speak(context.Background(), "hi")
	if err != nil || string(audio) != "mp3" {
		t.Errorf("unexpected result %q, %v", audio, err)
	}

	boom := errors.New("quota exceeded")
	a = New(Config{}, nil, &fakeSynth{err: boom}, nil)
	if _, err := a.Speak(context.Background(), "hi"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped synth error, got %v", err)
	}
}

func TestBuildPrompt_SectionOrder(t *testing.T) {
	p := BuildPrompt("board", "speech", "question")
	parts := strings.Split(p, "\n\n")
	if len(parts) != 4 {
		t.Fatalf("expected 4 sections, got %d", len(parts))
	}
	if !strings.Contains(parts[1], "OCR") || !strings.Contains(parts[2], "STT") || !strings.Contains(parts[3], "question") {
		t.Errorf("unexpected section order: %q", parts)
	}
}

func chatServer(t *testing.T, wantPath string, gotKey *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wantPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		*gotKey = r.Header.Get("Authorization") + r.Header.Get("api-key")

		var req struct {
			Model       string  `json:"model"`
			Temperature float32 `json:"temperature"`
			MaxTokens   int     `json:"max_tokens"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Temperature != DefaultTemperature || req.MaxTokens != DefaultMaxTokens {
			t.Errorf("unexpected sampling params %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"answer"},"finish_reason":"stop"}]}`))
	}))
}

func TestOpenAICompleter(t *testing.T) {
	var key string
	srv := chatServer(t, "/v1/chat/completions", &key)
	defer srv.Close()

	c, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := c.Complete(context.Background(), SystemPrompt, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "answer" {
		t.Errorf("unexpected answer %q", got)
	}
	if key != "Bearer sk-test" {
		t.Errorf("unexpected auth %q", key)
	}
}

func TestOpenAICompleter_Azure(t *testing.T) {
	var key string
	srv := chatServer(t, "/openai/deployments/gpt-demo/chat/completions", &key)
	defer srv.Close()

	c, err := NewOpenAI(OpenAIConfig{APIKey: "az-key", AzureEndpoint: srv.URL + "/", AzureDeployment: "gpt-demo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Complete(context.Background(), SystemPrompt, "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "az-key" {
		t.Errorf("expected api-key header, got %q", key)
	}
}

func TestNewOpenAI_Validation(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{}); err == nil {
		t.Error("expected error without API key")
	}
	if _, err := NewOpenAI(OpenAIConfig{APIKey: "k", AzureEndpoint: "https://x"}); err == nil {
		t.Error("expected error without azure deployment")
	}
}
