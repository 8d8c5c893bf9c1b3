package collector

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/atlas/translation-eval/api/wire"
	"github.com/atlas/translation-eval/internal/engine/virtclock"
)

func TestRecordStampsArrivalFromClockNotPayload(t *testing.T) {
	t.Parallel()

	clock := virtclock.NewFake()
	log, err := New(clock)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}

	clock.Advance(340)
	// The raw payload claims a remote timestamp; arrival must ignore it.
	collected, err := log.Record(wire.InboundEvent{
		Kind:    wire.EventTextDelta,
		EventID: "evt-1",
		Raw:     `{"kind":"textDelta","timestamp":99999}`,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if collected.ArrivalMS != 340 {
		t.Fatalf("expected arrival_ms 340 from local clock, got %d", collected.ArrivalMS)
	}
}

func TestArrivalIsNonDecreasingInInsertionOrder(t *testing.T) {
	t.Parallel()

	clock := virtclock.NewFake()
	log, err := New(clock)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				clock.Advance(1)
				if _, err := log.Record(wire.InboundEvent{
					Kind:    wire.EventAudio,
					EventID: fmt.Sprintf("evt-%d-%d", worker, j),
				}); err != nil {
					t.Errorf("record: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	log.Freeze()
	events, err := log.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(events) != 400 {
		t.Fatalf("expected 400 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].ArrivalMS < events[i-1].ArrivalMS {
			t.Fatalf("arrival regression at %d: %d < %d", i, events[i].ArrivalMS, events[i-1].ArrivalMS)
		}
	}
}

func TestSnapshotRequiresFreeze(t *testing.T) {
	t.Parallel()

	log, err := New(virtclock.NewFake())
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	if _, err := log.Snapshot(); err != ErrNotFrozen {
		t.Fatalf("expected ErrNotFrozen, got %v", err)
	}

	log.Freeze()
	if _, err := log.Record(wire.InboundEvent{Kind: wire.EventAudio}); err != ErrFrozen {
		t.Fatalf("expected ErrFrozen after freeze, got %v", err)
	}
}

func TestSnapshotIsImmutableCopy(t *testing.T) {
	t.Parallel()

	clock := virtclock.NewFake()
	log, err := New(clock)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	if _, err := log.Record(wire.InboundEvent{Kind: wire.EventTextDelta, EventID: "evt-1", Text: "hello"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	log.Freeze()

	first, err := log.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	first[0].Text = "mutated"

	second, err := log.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if second[0].Text != "hello" {
		t.Fatalf("snapshot mutation leaked into the log: %+v", second[0])
	}
}

func TestRecordDecodeFailureIsRetained(t *testing.T) {
	t.Parallel()

	clock := virtclock.NewFake()
	log, err := New(clock)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	clock.Advance(20)
	collected, err := log.RecordDecodeFailure(`{"kind":`, fmt.Errorf("unexpected end of JSON input"))
	if err != nil {
		t.Fatalf("record decode failure: %v", err)
	}
	if collected.Type != wire.EventDecodeError {
		t.Fatalf("expected decode_error event, got %s", collected.Type)
	}
	if collected.Raw != `{"kind":` {
		t.Fatalf("raw text must be preserved, got %q", collected.Raw)
	}
}

func TestExportJSONWritesFrozenLog(t *testing.T) {
	t.Parallel()

	clock := virtclock.NewFake()
	log, err := New(clock)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	if _, err := log.Record(wire.InboundEvent{Kind: wire.EventTextDelta, EventID: "evt-9"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	var buf bytes.Buffer
	if err := log.ExportJSON(&buf); err != ErrNotFrozen {
		t.Fatalf("expected export before freeze to fail, got %v", err)
	}

	log.Freeze()
	if err := log.ExportJSON(&buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(buf.String(), `"evt-9"`) {
		t.Fatalf("exported artifact missing event: %s", buf.String())
	}
}
