package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/healthbook-scheduling/internal/auth"
	"github.com/hackgods/healthbook-scheduling/internal/authz"
)

func TestLogDemoTokens(t *testing.T) {
	const secret = "demo-secret"
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	patient := uuid.New()
	actors := []authz.Actor{authz.Admin(), authz.Patient(patient)}
	if err := logDemoTokens(logger, actors, secret, time.Hour); err != nil {
		t.Fatalf("logDemoTokens: %v", err)
	}

	dec := json.NewDecoder(&buf)
	for i, want := range actors {
		var line struct {
			Actor string `json:"actor"`
			Token string `json:"token"`
		}
		if err := dec.Decode(&line); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if line.Actor != want.String() {
			t.Fatalf("line %d actor = %q, want %q", i, line.Actor, want.String())
		}
		got, err := auth.ActorFromToken(line.Token, secret)
		if err != nil {
			t.Fatalf("line %d token: %v", i, err)
		}
		if got.String() != want.String() {
			t.Fatalf("line %d token carries %s, want %s", i, got, want)
		}
	}
	if dec.More() {
		t.Fatal("more log lines than actors")
	}
}
