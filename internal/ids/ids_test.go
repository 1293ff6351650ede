package ids

import (
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNew_SortableAndUnique(t *testing.T) {
	prev := New()
	seen := map[string]struct{}{prev: {}}
	for i := 0; i < 1000; i++ {
		id := New()
		if _, err := ulid.ParseStrict(id); err != nil {
			t.Fatalf("invalid ulid %q: %v", id, err)
		}
		if id <= prev {
			t.Fatalf("ids not monotonic: %q <= %q", id, prev)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
		prev = id
	}
}
