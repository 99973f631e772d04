package queue

import (
	"testing"
	"time"

	"github.com/yoonka/acdctl/internal/domain"
)

func mkAskable(name string, priority int, enqueueOffset time.Duration, weight, callCount int) askable {
	base := time.Unix(1_700_000_000, 0)
	return askable{
		entry: domain.QueueEntry{Name: name, Handle: "h-" + name},
		call: domain.QueuedCall{
			Priority:    priority,
			EnqueueTime: base.Add(enqueueOffset),
			CallID:      "call-" + name,
		},
		weight:    weight,
		callCount: callCount,
	}
}

func TestRankOrdersByPriorityAmongEqualWeight(t *testing.T) {
	items := []askable{
		mkAskable("low-priority", 5, 0, 1, 1),
		mkAskable("high-priority", 1, 0, 1, 1),
		mkAskable("mid-priority", 3, 0, 1, 1),
	}

	out := rank(items)
	if len(out) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out))
	}
	if out[0].Name != "high-priority" {
		t.Fatalf("expected high-priority first, got %s", out[0].Name)
	}
	if out[2].Name != "low-priority" {
		t.Fatalf("expected low-priority last, got %s", out[2].Name)
	}
}

func TestRankWeightDescendingAmongEqualPriority(t *testing.T) {
	items := []askable{
		mkAskable("q-light", 1, 0, 1, 1),  // w = 1
		mkAskable("q-heavy", 1, 0, 5, 2),  // w = 10
	}

	out := rank(items)
	if out[0].Name != "q-heavy" {
		t.Fatalf("expected q-heavy (higher w) first, got %s", out[0].Name)
	}
}

func TestRankIsStableUnderInputPermutation(t *testing.T) {
	a := mkAskable("a", 2, 0, 1, 1)
	b := mkAskable("b", 2, 0, 1, 1)
	c := mkAskable("c", 2, 0, 1, 1)

	order1 := rank([]askable{a, b, c})
	order2 := rank([]askable{c, b, a})
	order3 := rank([]askable{b, a, c})

	for i := range order1 {
		if order1[i].Name != order2[i].Name || order1[i].Name != order3[i].Name {
			t.Fatalf("ranking not permutation-stable at index %d: %s vs %s vs %s",
				i, order1[i].Name, order2[i].Name, order3[i].Name)
		}
	}
}

func TestRankFinalWeightMatchesFormula(t *testing.T) {
	items := []askable{
		mkAskable("first", 1, 0, 2, 3),  // w = 6
		mkAskable("second", 2, 0, 1, 1), // w = 1
	}

	out := rank(items)
	L := 2

	// position 1 (c=1): final = w + L - c = 6 + 2 - 1 = 7
	if out[0].EffectiveWeight != 7 {
		t.Fatalf("expected effective weight 7 for position 1, got %d", out[0].EffectiveWeight)
	}
	// position 2 (c=2): final = 1 + 2 - 2 = 1
	if out[1].EffectiveWeight != 1 {
		t.Fatalf("expected effective weight 1 for position 2, got %d", out[1].EffectiveWeight)
	}
}

func TestRankEnqueueTimeBreaksTiesBeforePriority(t *testing.T) {
	earlier := mkAskable("earlier", 1, 0, 1, 1)
	later := mkAskable("later", 1, time.Second, 1, 1)

	out := rank([]askable{later, earlier})
	if out[0].Name != "earlier" {
		t.Fatalf("expected earlier-enqueued call ranked first among equal priority/weight, got %s", out[0].Name)
	}
}

func TestRankEmptyInput(t *testing.T) {
	if out := rank(nil); out != nil {
		t.Fatalf("expected nil for empty input, got %v", out)
	}
}
