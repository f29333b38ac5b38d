package service

import (
	"advanced_survey_backend/internal/util"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestDBEventPublisher(t *testing.T) {
	store := &memEventStore{}
	pub := NewDBEventPublisher(store)

	err := pub.Publish(context.Background(), SurveyEventMessage{
		SurveyID: 3,
		UserID:   8,
		Name:     util.EventSubmitted,
		Payload:  map[string]interface{}{"url_name": "exit-survey", "answers": map[string]string{"q-1": "fine"}},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	events, _ := store.ListBySurvey(context.Background(), 3, util.EventSubmitted, 10)
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}
	var payload struct {
		URLName string            `json:"url_name"`
		Answers map[string]string `json:"answers"`
	}
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.URLName != "exit-survey" || payload.Answers["q-1"] != "fine" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestMultiPublisherContinuesOnError(t *testing.T) {
	broken := &recordingPublisher{err: errors.New("stream unavailable")}
	healthy := &recordingPublisher{}

	err := MultiPublisher{broken, healthy}.Publish(context.Background(), SurveyEventMessage{Name: util.EventCompletion})
	if err == nil {
		t.Fatalf("error from a sink should be reported")
	}
	if len(healthy.names()) != 1 {
		t.Fatalf("healthy sink should still receive the event")
	}
}
