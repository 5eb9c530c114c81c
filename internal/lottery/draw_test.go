package lottery

import (
	"fmt"
	"math/rand/v2"
	"testing"
)

func candidates(n int) []Participant {
	out := make([]Participant, n)
	for i := range out {
		out[i] = Participant{ID: fmt.Sprintf("p%02d", i)}
	}
	return out
}

func TestDrawWinnersIsReproducible(t *testing.T) {
	pool := candidates(20)
	a := drawWinners(rand.New(rand.NewPCG(7, 7)), pool, 5)
	b := drawWinners(rand.New(rand.NewPCG(7, 7)), pool, 5)
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatalf("expected identical draws, got %v and %v", a, b)
		}
	}
}

func TestDrawWinnersDistinctAndClamped(t *testing.T) {
	pool := candidates(4)
	got := drawWinners(rand.New(rand.NewPCG(1, 1)), pool, 10)
	if len(got) != 4 {
		t.Fatalf("expected draw clamped to pool size, got %d", len(got))
	}
	seen := map[string]bool{}
	for _, p := range got {
		if seen[p.ID] {
			t.Fatalf("duplicate winner %s", p.ID)
		}
		seen[p.ID] = true
	}
	if pool[0].ID != "p00" || pool[3].ID != "p03" {
		t.Fatalf("input pool was reordered: %v", pool)
	}
}

func TestDrawWinnersCoversEveryCandidate(t *testing.T) {
	pool := candidates(5)
	r := rand.New(rand.NewPCG(3, 9))
	counts := map[string]int{}
	for i := 0; i < 500; i++ {
		counts[drawWinners(r, pool, 1)[0].ID]++
	}
	for _, p := range pool {
		if counts[p.ID] == 0 {
			t.Fatalf("candidate %s never drawn in 500 draws: %v", p.ID, counts)
		}
	}
}
