package matcher

import (
	"fmt"
	"sync"
	"testing"
)

func TestClaimAllOrNothing(t *testing.T) {
	claims := NewClaimSet()

	if !claims.Claim("mov-1", "inv-1", "inv-2") {
		t.Fatal("first claim should succeed")
	}
	// Overlaps on inv-2: nothing from the second set may be claimed.
	if claims.Claim("mov-2", "inv-3", "inv-2") {
		t.Fatal("overlapping claim should fail")
	}
	if claims.IsClaimed("inv-3") {
		t.Error("failed claim must not leave partial claims")
	}
	if claims.Count() != 2 {
		t.Errorf("expected 2 claimed ids, got %d", claims.Count())
	}
}

func TestClaimEmpty(t *testing.T) {
	claims := NewClaimSet()
	if claims.Claim("mov-1") {
		t.Error("empty claim should fail")
	}
}

func TestAnyClaimed(t *testing.T) {
	claims := NewClaimSet()
	claims.Claim("mov-1", "inv-1", "inv-2")

	if !claims.AnyClaimed([]string{"inv-3", "inv-2"}) {
		t.Error("overlap with a claimed id should report true")
	}
	if claims.AnyClaimed([]string{"inv-3", "inv-4"}) {
		t.Error("disjoint ids should report false")
	}
}

func TestClaimConcurrent(t *testing.T) {
	claims := NewClaimSet()
	const workers = 32

	var wg sync.WaitGroup
	wins := make(chan string, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if claims.Claim(fmt.Sprintf("mov-%d", id), "inv-1") {
				wins <- fmt.Sprintf("mov-%d", id)
			}
		}(w)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("exactly one concurrent claim must win, got %d", count)
	}
}

func TestClaimedIDsSorted(t *testing.T) {
	claims := NewClaimSet()
	claims.Claim("mov-1", "c", "a", "b")

	ids := claims.ClaimedIDs()
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("expected sorted ids, got %v", ids)
	}
}
