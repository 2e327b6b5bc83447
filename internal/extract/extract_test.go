package extract_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sage-learning/sage/internal/extract"
	"github.com/sage-learning/sage/internal/intent"
	llm "github.com/sage-learning/sage/pkg/provider/llm"
	llmmock "github.com/sage-learning/sage/pkg/provider/llm/mock"
)

func checkinSchema(t *testing.T) intent.Schema {
	t.Helper()
	s, err := intent.DefaultRegistry().Lookup("session_check_in")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	return s
}

// Scenario: a tired learner checking in via chat yields a complete
// session_check_in extraction with high confidence.
func TestExtract_CheckinFromChat(t *testing.T) {
	mock := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: `{"data": {"energy": "low", "time_available": "20 minutes"}}`},
		},
	}
	e := extract.New(mock)

	got, err := e.Extract(context.Background(), checkinSchema(t), "I'm pretty tired today, maybe 20 minutes")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if got.Intent != "session_check_in" {
		t.Errorf("Intent = %q", got.Intent)
	}
	if got.Data["energy"] != "low" || got.Data["time_available"] != "20 minutes" {
		t.Errorf("Data = %v", got.Data)
	}
	if !got.DataComplete {
		t.Error("DataComplete = false, want true")
	}
	if got.Confidence < 0.7 {
		t.Errorf("Confidence = %v, want >= 0.7", got.Confidence)
	}
	if len(mock.CompleteCalls) != 1 {
		t.Errorf("Complete calls = %d, want 1", len(mock.CompleteCalls))
	}
}

func TestExtract_PromptEmbedsSchema(t *testing.T) {
	mock := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: `{"data": {}}`},
		},
	}
	e := extract.New(mock)

	if _, err := e.Extract(context.Background(), checkinSchema(t), "hello"); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	sys := mock.CompleteCalls[0].Req.SystemPrompt
	for _, want := range []string{"energy", "time_available", "low, medium, high", "required"} {
		if !strings.Contains(sys, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestExtract_RetryOnMalformedThenSuccess(t *testing.T) {
	mock := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: "Sure! The learner seems tired."},
			{Content: "```json\n{\"data\": {\"energy\": \"low\", \"time_available\": \"an hour\"}}\n```"},
		},
	}
	e := extract.New(mock)

	got, err := e.Extract(context.Background(), checkinSchema(t), "wiped out, got an hour")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if len(mock.CompleteCalls) != 2 {
		t.Fatalf("Complete calls = %d, want 2", len(mock.CompleteCalls))
	}
	retryMsg := mock.CompleteCalls[1].Req.Messages[0].Content
	if !strings.Contains(retryMsg, "ONLY the JSON") {
		t.Errorf("retry message missing strict instruction: %q", retryMsg)
	}
	if !got.DataComplete || got.Data["energy"] != "low" {
		t.Errorf("retry result = %+v", got)
	}
}

// Malformed output twice degrades to zero confidence, never an error.
func TestExtract_DegradesToZeroConfidence(t *testing.T) {
	mock := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: "not json"},
			{Content: "still not json"},
		},
	}
	e := extract.New(mock)

	got, err := e.Extract(context.Background(), checkinSchema(t), "hmm")
	if err != nil {
		t.Fatalf("Extract returned error for malformed output: %v", err)
	}

	if got.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", got.Confidence)
	}
	if got.DataComplete {
		t.Error("DataComplete = true, want false")
	}
	if len(got.Data) != 0 {
		t.Errorf("Data = %v, want empty", got.Data)
	}
	if len(got.MissingFields) != 2 {
		t.Errorf("MissingFields = %v, want both required fields", got.MissingFields)
	}
}

// A provider outage must not bubble out of extraction: the turn degrades to
// a zero-confidence clarification instead.
func TestExtract_ProviderErrorDegrades(t *testing.T) {
	mock := &llmmock.Provider{CompleteErr: errors.New("connection refused")}
	e := extract.New(mock)

	got, err := e.Extract(context.Background(), checkinSchema(t), "hi")
	if err != nil {
		t.Fatalf("Extract returned error for provider failure: %v", err)
	}
	if got.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", got.Confidence)
	}
	if got.DataComplete {
		t.Error("DataComplete = true, want false")
	}
	if len(got.Data) != 0 {
		t.Errorf("Data = %v, want empty", got.Data)
	}
	if len(got.MissingFields) != 2 {
		t.Errorf("MissingFields = %v, want both required fields", got.MissingFields)
	}
}

// Every model call carries the configured deadline.
func TestExtract_CallCarriesTimeout(t *testing.T) {
	mock := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: `{"data": {"energy": "low", "time_available": "20 minutes"}}`},
		},
	}
	e := extract.New(mock, extract.WithTimeout(5*time.Second))

	if _, err := e.Extract(context.Background(), checkinSchema(t), "tired, 20 min"); err != nil {
		t.Fatalf("Extract: %v", err)
	}

	deadline, ok := mock.CompleteCalls[0].Ctx.Deadline()
	if !ok {
		t.Fatal("call context has no deadline")
	}
	if remaining := time.Until(deadline); remaining > 5*time.Second {
		t.Errorf("deadline %v out past the configured timeout", remaining)
	}
}

func TestExtract_ReportedConfidenceWins(t *testing.T) {
	mock := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: `{"data": {"energy": "low", "time_available": "20 minutes"}, "confidence": 0.65}`},
		},
	}
	e := extract.New(mock)

	got, err := e.Extract(context.Background(), checkinSchema(t), "kind of tired I guess?")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Confidence != 0.65 {
		t.Errorf("Confidence = %v, want model-reported 0.65", got.Confidence)
	}
}

func TestExtract_PartialCoverageScalesDown(t *testing.T) {
	mock := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: `{"data": {"energy": "low"}}`},
		},
	}
	e := extract.New(mock)

	got, err := e.Extract(context.Background(), checkinSchema(t), "tired")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if got.DataComplete {
		t.Error("DataComplete = true with a missing required field")
	}
	// One of two required fields populated: 0.9 * 0.5.
	if got.Confidence < 0.44 || got.Confidence > 0.46 {
		t.Errorf("Confidence = %v, want 0.45", got.Confidence)
	}
	if len(got.MissingFields) != 1 || got.MissingFields[0] != "time_available" {
		t.Errorf("MissingFields = %v, want [time_available]", got.MissingFields)
	}
}

func TestExtract_EnumMismatchLowersConfidence(t *testing.T) {
	mock := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: `{"data": {"energy": "sleepy", "time_available": "20 minutes"}}`},
		},
	}
	e := extract.New(mock)

	got, err := e.Extract(context.Background(), checkinSchema(t), "sleepy, 20 min")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	// Both required fields populated but one enum value is off-list:
	// 0.9 * 1.0 - 0.2 * 1.
	if got.Confidence < 0.69 || got.Confidence > 0.71 {
		t.Errorf("Confidence = %v, want 0.7", got.Confidence)
	}
}

func TestExtract_PrunesUndeclaredFields(t *testing.T) {
	mock := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: `{"data": {"energy": "high", "time_available": "1 hour", "mood": "chipper"}}`},
		},
	}
	e := extract.New(mock)

	got, err := e.Extract(context.Background(), checkinSchema(t), "feeling great, got an hour")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if _, ok := got.Data["mood"]; ok {
		t.Errorf("undeclared field survived extraction: %v", got.Data)
	}
}
