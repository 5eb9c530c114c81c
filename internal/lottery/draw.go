package lottery

import "math/rand/v2"

// Rand is the randomness used for draws. *rand.Rand from math/rand/v2
// satisfies it, which keeps draws reproducible under a fixed seed.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// drawWinners picks min(n, len(candidates)) distinct candidates uniformly
// with a partial Fisher-Yates shuffle. candidates is not modified.
func drawWinners(r Rand, candidates []Participant, n int) []Participant {
	pool := append([]Participant(nil), candidates...)
	if n > len(pool) {
		n = len(pool)
	}
	for i := 0; i < n; i++ {
		j := i + r.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}
