package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "exports/run.csv", "text/csv", bytes.NewBufferString("email\n"))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://exports/run.csv" {
		t.Fatalf("unexpected uri %s", uri)
	}
	got, ok := store.Object("exports/run.csv")
	if !ok || string(got) != "email\n" {
		t.Fatalf("Object() = %q, %v", got, ok)
	}
	got[0] = 'E'
	again, _ := store.Object("exports/run.csv")
	if string(again) != "email\n" {
		t.Fatalf("expected stored copy to be immutable, got %q", again)
	}
	if _, ok := store.Object("missing"); ok {
		t.Fatal("expected missing object")
	}
}
