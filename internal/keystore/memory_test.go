package keystore

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"luks-keeper/internal/keeper"
)

func TestMemoryBlobStore_PutAndGet(t *testing.T) {
	store := NewMemoryBlobStore()
	ctx := context.Background()

	tests := []struct {
		name    string
		record  string
		content string
	}{
		{name: "store and retrieve", record: RecordName("crypt1"), content: "sealed"},
		{name: "store empty record", record: RecordName("empty"), content: ""},
		{name: "store large record", record: RecordName("large"), content: strings.Repeat("x", 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Put(ctx, tt.record, strings.NewReader(tt.content), int64(len(tt.content))); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			var buf bytes.Buffer
			if err := store.Get(ctx, tt.record, &buf); err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got := buf.String(); got != tt.content {
				t.Errorf("Get() = %d bytes, want %d bytes", len(got), len(tt.content))
			}
		})
	}

	if got := len(store.Names()); got != len(tests) {
		t.Errorf("len(Names()) = %d, want %d", got, len(tests))
	}
}

func TestMemoryBlobStore_Missing(t *testing.T) {
	store := NewMemoryBlobStore()
	ctx := context.Background()

	exists, err := store.Exists(ctx, "nope")
	if err != nil || exists {
		t.Errorf("Exists() = %v, %v; want false, nil", exists, err)
	}

	var buf bytes.Buffer
	if err := store.Get(ctx, "nope", &buf); !errors.Is(err, keeper.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryBlobStore_SizeMismatchKeepsOldRecord(t *testing.T) {
	store := NewMemoryBlobStore()
	ctx := context.Background()

	if err := store.Put(ctx, "r", strings.NewReader("old"), 3); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, "r", strings.NewReader("new"), 99); err == nil {
		t.Fatal("Put() expected size mismatch error")
	}

	var buf bytes.Buffer
	if err := store.Get(ctx, "r", &buf); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if buf.String() != "old" {
		t.Errorf("record = %q, want %q", buf.String(), "old")
	}
}
