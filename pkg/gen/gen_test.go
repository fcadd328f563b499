package gen_test

import (
	"dvzoll/pkg/gen"
	"testing"

	"github.com/google/uuid"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{name: "two", parts: []string{"foo", "bar"}, want: "foo|bar"},
		{name: "three", parts: []string{"a", "b", "1"}, want: "a|b|1"},
		{name: "emptyFirst", parts: []string{"", "value"}, want: "|value"},
		{name: "none", parts: nil, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gen.Key(tt.parts...); got != tt.want {
				t.Fatalf("Key(%q) = %q, want %q", tt.parts, got, tt.want)
			}
		})
	}
}

func TestUUIDv5(t *testing.T) {
	a := gen.UUIDv5("https://example.com/list", "0")
	b := gen.UUIDv5("https://example.com/list", "0")
	c := gen.UUIDv5("https://example.com/list", "1")

	if a != b {
		t.Errorf("UUIDv5 not stable: %s != %s", a, b)
	}

	if a == c {
		t.Errorf("UUIDv5 collision for different parts: %s", a)
	}

	parsed, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if parsed.Version() != 5 {
		t.Errorf("version = %d, want 5", parsed.Version())
	}
}

func TestID(t *testing.T) {
	if gen.ID() == gen.ID() {
		t.Error("ID returned the same value twice")
	}
}
