package core_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/becomeliminal/nim-companion/core"
)

func validInput() *core.TurnInput {
	return &core.TurnInput{
		Key: core.ConversationKey{CharacterID: "asturian", UserID: "u1", Model: "m1"},
		Character: &core.Character{
			ID:           "asturian",
			Name:         "Asturian",
			Instructions: "You are Asturian.",
			Seed:         "Human: Hi\n\nAsturian: Hello",
		},
		Prompt: "Greetings",
	}
}

func TestTurnInput_Validate(t *testing.T) {
	if err := validInput().Validate(); err != nil {
		t.Fatalf("expected valid input, got %v", err)
	}

	tests := []struct {
		name  string
		edit  func(*core.TurnInput)
		field string
	}{
		{"missing user", func(in *core.TurnInput) { in.Key.UserID = "" }, "user_id"},
		{"missing model", func(in *core.TurnInput) { in.Key.Model = " " }, "model"},
		{"nil character", func(in *core.TurnInput) { in.Character = nil }, "character"},
		{"empty seed", func(in *core.TurnInput) { in.Character.Seed = "" }, "character.seed"},
		{"mismatched character", func(in *core.TurnInput) { in.Key.CharacterID = "other" }, "character_id"},
		{"blank prompt", func(in *core.TurnInput) { in.Prompt = "  \n" }, "prompt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.edit(in)
			err := in.Validate()
			if !errors.Is(err, core.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var verr *core.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Fatalf("expected field %q, got %v", tt.field, err)
			}
		})
	}
}

func TestConversationKey_StringAndNamespace(t *testing.T) {
	k := core.ConversationKey{CharacterID: "asturian", UserID: "u1", Model: "m1"}
	if got := k.String(); got != "asturian-m1-u1" {
		t.Fatalf("unexpected key string %q", got)
	}
	if got := k.Namespace(); got != "asturian" {
		t.Fatalf("unexpected namespace %q", got)
	}
	if got := k.TurnsNamespace(); got != "asturian/turns/u1" {
		t.Fatalf("unexpected turns namespace %q", got)
	}
}

func TestExternal_WrapsOnce(t *testing.T) {
	err := core.External("history", "append", context.DeadlineExceeded)
	if !errors.Is(err, core.ErrExternalService) {
		t.Fatal("expected ErrExternalService")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("expected cause to stay reachable")
	}

	wrapped := fmt.Errorf("turn: %w", err)
	if again := core.External("engine", "chat", wrapped); again != wrapped {
		t.Fatal("expected already-classified error to pass through")
	}
	if core.External("history", "append", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}
