package stream

// Shards splits universe into at most n contiguous, non-empty slices whose
// sizes differ by at most one. Earlier shards take the remainder, so 7 symbols
// over 3 connections split 3,2,2.
func Shards(universe []string, n int) [][]string {
	if n <= 0 || len(universe) == 0 {
		return nil
	}
	if n > len(universe) {
		n = len(universe)
	}

	base, extra := len(universe)/n, len(universe)%n
	out := make([][]string, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		shard := make([]string, size)
		copy(shard, universe[start:start+size])
		out = append(out, shard)
		start += size
	}
	return out
}
