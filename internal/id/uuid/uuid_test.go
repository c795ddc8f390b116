package uuid

import (
	"errors"
	"testing"

	goUUID "github.com/google/uuid"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	seen := make(map[string]struct{})
	for range 50 {
		id, err := gen.NewID()
		if err != nil {
			t.Fatalf("NewID() error = %v", err)
		}
		parsed, err := goUUID.Parse(id)
		if err != nil {
			t.Fatalf("id not valid UUID: %v", err)
		}
		if parsed.Version() != 7 {
			t.Fatalf("expected v7, got v%d", parsed.Version())
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestGeneratorNewIDError(t *testing.T) {
	t.Parallel()

	gen := &Generator{newV7: func() (goUUID.UUID, error) { return goUUID.Nil, errors.New("entropy") }}
	if _, err := gen.NewID(); err == nil {
		t.Fatal("expected error")
	}
}
