package stream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func universeOf(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("SYM%02d", i)
	}
	return out
}

// go test -v --run TestShardsCoverage
func TestShardsCoverage(t *testing.T) {
	for u := 0; u <= 25; u++ {
		for n := 1; n <= 5; n++ {
			universe := universeOf(u)
			shards := Shards(universe, n)

			require.LessOrEqual(t, len(shards), n, "u=%d n=%d", u, n)

			var flat []string
			for _, shard := range shards {
				require.NotEmpty(t, shard, "u=%d n=%d produced an empty shard", u, n)
				flat = append(flat, shard...)
			}
			if u == 0 {
				assert.Empty(t, flat)
				continue
			}
			// contiguous and in order: concatenation reproduces the universe
			assert.Equal(t, universe, flat, "u=%d n=%d", u, n)
		}
	}
}

// go test -v --run TestShardsSevenOverThree
func TestShardsSevenOverThree(t *testing.T) {
	shards := Shards(universeOf(7), 3)

	require.Len(t, shards, 3)
	assert.Len(t, shards[0], 3)
	assert.Len(t, shards[1], 2)
	assert.Len(t, shards[2], 2)
	assert.Equal(t, []string{"SYM03", "SYM04"}, shards[1])
}
