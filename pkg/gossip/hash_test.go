package gossip

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeHash(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		event := Event{
			Creator:     "node-1",
			Observation: Genesis([]NodeID{"node-1", "node-2"}),
		}

		h1, err := ComputeHash(&event)
		assert.NoError(t, err)
		h2, err := ComputeHash(&event)
		assert.NoError(t, err)

		assert.Equal(t, h1, h2)
	})

	t.Run("content sensitive", func(t *testing.T) {
		event1 := Event{
			Creator:     "node-1",
			Observation: Add("node-2"),
		}
		event2 := Event{
			Creator:     "node-1",
			Observation: Add("node-3"),
		}

		h1, err := ComputeHash(&event1)
		assert.NoError(t, err)
		h2, err := ComputeHash(&event2)
		assert.NoError(t, err)

		assert.NotEqual(t, h1, h2)
	})

	t.Run("genesis member order", func(t *testing.T) {
		// Genesis sorts and deduplicates the members, so the hash must not
		// depend on the order the caller lists them in.
		event1 := Event{
			Creator:     "node-1",
			Observation: Genesis([]NodeID{"node-3", "node-1", "node-2"}),
		}
		event2 := Event{
			Creator:     "node-1",
			Observation: Genesis([]NodeID{"node-2", "node-3", "node-1", "node-2"}),
		}

		h1, err := ComputeHash(&event1)
		assert.NoError(t, err)
		h2, err := ComputeHash(&event2)
		assert.NoError(t, err)

		assert.Equal(t, h1, h2)
	})
}

func TestParseHash(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		h, err := ComputeHash("foo")
		assert.NoError(t, err)

		parsed, err := ParseHash(h.String())
		assert.NoError(t, err)
		assert.Equal(t, h, parsed)
	})

	t.Run("invalid hex", func(t *testing.T) {
		_, err := ParseHash("not hex")
		assert.Error(t, err)
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := ParseHash("abcd")
		assert.Error(t, err)
	})
}
