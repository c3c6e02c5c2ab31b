package ids

import (
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewIsSortableAndUnique(t *testing.T) {
	prev := ""
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := New()
		if _, err := ulid.ParseStrict(id); err != nil {
			t.Fatalf("invalid ulid %q: %v", id, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		if prev != "" && id <= prev {
			t.Fatalf("ids not increasing: %q after %q", id, prev)
		}
		seen[id] = struct{}{}
		prev = id
	}
}

func TestKeyIsLowerCase(t *testing.T) {
	k := Key()
	if k != strings.ToLower(k) || len(k) != ulid.EncodedSize {
		t.Fatalf("unexpected key %q", k)
	}
}
