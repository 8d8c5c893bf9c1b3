package identity

import (
	"strings"
	"sync"
	"testing"
)

func TestNewRunIDIsDeterministic(t *testing.T) {
	t.Parallel()

	first := NewRunID("clinic-basic", "1700000000")
	second := NewRunID("clinic-basic", "1700000000")
	if first != second {
		t.Fatalf("same inputs must yield the same run id: %s vs %s", first, second)
	}
	if NewRunID("clinic-basic", "1700000001") == first {
		t.Fatalf("different salt must yield a different run id")
	}
	if !strings.HasPrefix(first, "run-") {
		t.Fatalf("unexpected run id shape: %s", first)
	}
}

func TestNewTurnContextSequencesPerParticipant(t *testing.T) {
	t.Parallel()

	svc := NewService()
	first, err := svc.NewTurnContext("run-abc", "alice")
	if err != nil {
		t.Fatalf("new turn context: %v", err)
	}
	second, err := svc.NewTurnContext("run-abc", "alice")
	if err != nil {
		t.Fatalf("new turn context: %v", err)
	}
	other, err := svc.NewTurnContext("run-abc", "bob")
	if err != nil {
		t.Fatalf("new turn context: %v", err)
	}

	if !strings.HasSuffix(first.TurnID, "000001") {
		t.Fatalf("first turn id should be ordinal 1: %s", first.TurnID)
	}
	if !strings.HasSuffix(second.TurnID, "000002") {
		t.Fatalf("second turn id should be ordinal 2: %s", second.TurnID)
	}
	if !strings.HasSuffix(other.TurnID, "000001") {
		t.Fatalf("participants sequence independently: %s", other.TurnID)
	}
}

func TestNewTurnContextRequiresIdentity(t *testing.T) {
	t.Parallel()

	svc := NewService()
	if _, err := svc.NewTurnContext("", "alice"); err == nil {
		t.Fatalf("expected missing run id to fail")
	}
	if _, err := svc.NewTurnContext("run-abc", "  "); err == nil {
		t.Fatalf("expected missing participant to fail")
	}
}

func TestNewTurnContextConcurrentIssuanceIsUnique(t *testing.T) {
	t.Parallel()

	svc := NewService()
	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	ids := make(chan string, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ctx, err := svc.NewTurnContext("run-x", "alice")
				if err != nil {
					t.Errorf("new turn context: %v", err)
					return
				}
				ids <- ctx.TurnID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate turn id issued: %s", id)
		}
		seen[id] = true
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d unique ids, got %d", workers*perWorker, len(seen))
	}
}
