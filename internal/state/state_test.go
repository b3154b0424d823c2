package state

import (
	"testing"
	"time"
)

func TestNew_Sentinels(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := New(now)

	if s.OCRText() != WaitingForText {
		t.Errorf("expected OCR sentinel, got %q", s.OCRText())
	}
	if s.STTText() != WaitingForSpeech {
		t.Errorf("expected STT sentinel, got %q", s.STTText())
	}
	if !s.LastProcessedAt().Equal(now) {
		t.Errorf("expected lastProcessedAt %v, got %v", now, s.LastProcessedAt())
	}
	if s.StreamStopped() {
		t.Error("expected stream not stopped initially")
	}
}

func TestUpdateOCR_ChangeGate(t *testing.T) {
	s := New(time.Now())

	if !s.UpdateOCR("Hello\nWorld") {
		t.Fatal("expected first update to change state")
	}
	if s.UpdateOCR("Hello\nWorld") {
		t.Error("expected identical update to be gated")
	}
	if s.OCRText() != "Hello\nWorld" {
		t.Errorf("unexpected OCR text %q", s.OCRText())
	}
	if !s.UpdateOCR("Other") {
		t.Error("expected different text to change state")
	}
}

func TestUpdateSTT_ChangeGate(t *testing.T) {
	tests := []struct {
		name  string
		steps []struct {
			text  string
			final bool
		}
		want []bool
	}{
		{
			name: "repeated partial",
			steps: []struct {
				text  string
				final bool
			}{{"hel", false}, {"hel", false}},
			want: []bool{true, false},
		},
		{
			name: "partial promoted to final",
			steps: []struct {
				text  string
				final bool
			}{{"hello", false}, {"hello", true}},
			want: []bool{true, true},
		},
		{
			name: "repeated final",
			steps: []struct {
				text  string
				final bool
			}{{"done", true}, {"done", true}},
			want: []bool{true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(time.Now())
			for i, step := range tt.steps {
				if got := s.UpdateSTT(step.text, step.final); got != tt.want[i] {
					t.Errorf("step %d: UpdateSTT(%q, %v) = %v, want %v", i, step.text, step.final, got, tt.want[i])
				}
			}
		})
	}
}

func TestSetStreamStopped_OnlyReportsTransitions(t *testing.T) {
	s := New(time.Now())

	if !s.SetStreamStopped(true, "stopped") {
		t.Error("expected first stop to be a transition")
	}
	if s.SetStreamStopped(true, "stopped") {
		t.Error("expected repeated stop to be ignored")
	}
	if s.Alert() != "stopped" {
		t.Errorf("expected alert, got %q", s.Alert())
	}
	if !s.SetStreamStopped(false, "") {
		t.Error("expected resume to be a transition")
	}
	if s.Alert() != "" {
		t.Errorf("expected alert cleared, got %q", s.Alert())
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	s := New(time.Now())
	s.UpdateOCR("first")
	snap := s.Snapshot()
	s.UpdateOCR("second")

	if snap.OCRText != "first" {
		t.Errorf("expected snapshot to keep old value, got %q", snap.OCRText)
	}
}
