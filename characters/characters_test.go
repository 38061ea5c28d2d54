package characters

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/becomeliminal/nim-companion/core"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "characters.json")
	data := `[{"id":"asturian","name":"Asturian","instructions":"You are a shepherd.","seed":"Human: Hi\n\nAsturian: Hello"}]`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	src, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	c, err := src.Character(context.Background(), "asturian")
	if err != nil {
		t.Fatalf("character: %v", err)
	}
	if c.Name != "Asturian" || c.Seed != "Human: Hi\n\nAsturian: Hello" {
		t.Fatalf("unexpected character %+v", c)
	}

	if _, err := src.Character(context.Background(), "orc"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLoadFile_InvalidRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "characters.json")
	if err := os.WriteFile(path, []byte(`[{"id":"asturian","name":"Asturian"}]`), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if _, err := LoadFile(path); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPostgres_Character(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgxmock pool: %v", err)
	}
	defer mock.Close()
	src := NewPostgres(mock, "")

	mock.ExpectQuery("SELECT id, name, instructions, seed FROM characters").
		WithArgs("asturian").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "instructions", "seed"}).
			AddRow("asturian", "Asturian", "You are a shepherd.", "Human: Hi"))

	c, err := src.Character(context.Background(), "asturian")
	if err != nil {
		t.Fatalf("character: %v", err)
	}
	if c.Instructions != "You are a shepherd." {
		t.Fatalf("unexpected character %+v", c)
	}
}

func TestPostgres_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgxmock pool: %v", err)
	}
	defer mock.Close()
	src := NewPostgres(mock, "companions")

	mock.ExpectQuery(`FROM "companions"`).
		WithArgs("orc").
		WillReturnError(pgx.ErrNoRows)

	if _, err := src.Character(context.Background(), "orc"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgres_Failure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgxmock pool: %v", err)
	}
	defer mock.Close()
	src := NewPostgres(mock, "")

	mock.ExpectQuery("SELECT").
		WithArgs("asturian").
		WillReturnError(errors.New("connection refused"))

	if _, err := src.Character(context.Background(), "asturian"); !errors.Is(err, core.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}
