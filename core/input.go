package core

import "strings"

// Character is the record supplied by the caller's data layer.
// All fields are required; validation happens once, before the core runs.
type Character struct {
	ID           string
	Name         string
	Instructions string
	// Seed is the example dialogue used to bootstrap an empty conversation.
	Seed string
}

// Validate checks the character record at the boundary.
func (c *Character) Validate() error {
	if c == nil {
		return &ValidationError{Field: "character", Reason: "required"}
	}
	for _, f := range []struct{ name, value string }{
		{"character.id", c.ID},
		{"character.name", c.Name},
		{"character.instructions", c.Instructions},
		{"character.seed", c.Seed},
	} {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name, Reason: "required"}
		}
	}
	return nil
}

// TurnInput is everything the request handler hands to the core for one chat turn.
type TurnInput struct {
	Key       ConversationKey
	Character *Character

	// Prompt is the raw user text.
	Prompt string

	// Route identifies the inbound endpoint; combined with Key for rate limiting.
	Route string
}

// Validate checks key, character and prompt. The key must belong to the character.
func (in *TurnInput) Validate() error {
	if err := in.Key.Validate(); err != nil {
		return err
	}
	if err := in.Character.Validate(); err != nil {
		return err
	}
	if in.Key.CharacterID != in.Character.ID {
		return &ValidationError{Field: "character_id", Reason: "does not match character record"}
	}
	if strings.TrimSpace(in.Prompt) == "" {
		return &ValidationError{Field: "prompt", Reason: "required"}
	}
	return nil
}
