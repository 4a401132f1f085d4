package main

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/healthbook-scheduling/internal/auth"
	"github.com/hackgods/healthbook-scheduling/internal/authz"
)

func TestWriteTokens(t *testing.T) {
	const secret = "seed-secret"
	actors := []authz.Actor{authz.Admin(), authz.Provider(uuid.New()), authz.Patient(uuid.New())}

	var buf bytes.Buffer
	if err := writeTokens(&buf, actors, secret, time.Hour); err != nil {
		t.Fatalf("writeTokens: %v", err)
	}

	sc := bufio.NewScanner(&buf)
	var n int
	for sc.Scan() {
		name, tok, ok := strings.Cut(sc.Text(), "\t")
		if !ok {
			t.Fatalf("line %q has no tab", sc.Text())
		}
		got, err := auth.ActorFromToken(tok, secret)
		if err != nil {
			t.Fatalf("token for %s: %v", name, err)
		}
		if got.String() != name || name != actors[n].String() {
			t.Fatalf("line %d = %s carrying %s, want %s", n, name, got, actors[n])
		}
		n++
	}
	if n != len(actors) {
		t.Fatalf("lines = %d, want %d", n, len(actors))
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("SEED_TEST_N", "12")
	if got := envInt("SEED_TEST_N", 3); got != 12 {
		t.Fatalf("envInt = %d, want 12", got)
	}
	t.Setenv("SEED_TEST_N", "-4")
	if got := envInt("SEED_TEST_N", 3); got != 3 {
		t.Fatalf("negative envInt = %d, want default 3", got)
	}
	t.Setenv("SEED_TEST_N", "many")
	if got := envInt("SEED_TEST_N", 3); got != 3 {
		t.Fatalf("bad envInt = %d, want default 3", got)
	}
}
