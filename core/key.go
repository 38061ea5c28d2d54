package core

import "strings"

// ConversationKey namespaces everything stored for one user's conversation
// with one character under one generation model.
type ConversationKey struct {
	CharacterID string
	UserID      string
	Model       string
}

// Validate checks that every component is present.
func (k ConversationKey) Validate() error {
	switch {
	case strings.TrimSpace(k.CharacterID) == "":
		return &ValidationError{Field: "character_id", Reason: "required"}
	case strings.TrimSpace(k.UserID) == "":
		return &ValidationError{Field: "user_id", Reason: "required"}
	case strings.TrimSpace(k.Model) == "":
		return &ValidationError{Field: "model", Reason: "required"}
	}
	return nil
}

// String returns the partition key used by history stores.
func (k ConversationKey) String() string {
	return k.CharacterID + "-" + k.Model + "-" + k.UserID
}

// Namespace returns the vector index namespace owning this conversation's
// long-term memory. It is always the character identity, so searches never
// cross characters.
func (k ConversationKey) Namespace() string {
	return k.CharacterID
}

// TurnsNamespace returns the vector index namespace for exchanges remembered
// from this user's conversations with the character. Other users never
// search it.
func (k ConversationKey) TurnsNamespace() string {
	return k.CharacterID + "/turns/" + k.UserID
}
