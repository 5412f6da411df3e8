package stt

import (
	"context"
	"testing"
)

func TestJoinSegments(t *testing.T) {
	got := joinSegments([]Segment{{Text: " what is"}, {Text: "  "}, {Text: "this mug "}})
	if got != "what is this mug" {
		t.Fatalf("joinSegments = %q", got)
	}
	if joinSegments(nil) != "" {
		t.Fatal("empty input should give empty text")
	}
}

func TestNewTranscriberRequiresModel(t *testing.T) {
	if _, err := NewTranscriber("", Options{}); err == nil {
		t.Fatal("expected error for empty model path")
	}
}

func TestTranscribePCMWithoutModel(t *testing.T) {
	var tr Transcriber
	if _, err := tr.TranscribePCM(context.Background(), []float32{0}, Options{}); err == nil {
		t.Fatal("expected error without model")
	}
}
