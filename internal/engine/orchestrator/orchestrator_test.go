package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/atlas/translation-eval/api/wire"
	"github.com/atlas/translation-eval/internal/engine/transport"
	"github.com/atlas/translation-eval/internal/engine/virtclock"
	"github.com/atlas/translation-eval/internal/scenario"
)

type fakeAudio struct{}

func (fakeAudio) ReadPCM(ctx context.Context, name string) ([]byte, error) {
	if name == "missing" {
		return nil, fmt.Errorf("asset %q not found", name)
	}
	return []byte("pcm:" + name), nil
}

func loopbackDialer(scripts map[string][][]byte) transport.Dialer {
	return transport.DialerFunc(func(ctx context.Context, participant string) (transport.Transport, error) {
		return transport.NewLoopback(scripts[participant]), nil
	})
}

func textDelta(eventID, text string) []byte {
	return []byte(fmt.Sprintf(`{"kind":"textDelta","textDelta":{"text":%q,"eventId":%q}}`, text, eventID))
}

func basicScenario() scenario.Scenario {
	return scenario.Scenario{
		Name:         "basic",
		Participants: []scenario.Participant{{ID: "alice", Language: "en"}},
		Actions: []scenario.TimedAction{
			{Kind: scenario.ActionSendAudio, Participant: "alice", Asset: "greeting", OffsetMS: 0},
			{Kind: scenario.ActionSilence, OffsetMS: 100, DurationMS: 50},
			{Kind: scenario.ActionHangup, Participant: "alice", OffsetMS: 200},
		},
		Expectations: scenario.ExpectationSet{
			Transcripts: []scenario.TranscriptExpectation{{EventID: "evt-1", Text: "hello"}},
		},
		ScoreMethod: "average",
	}
}

func TestRunHappyPathFinishes(t *testing.T) {
	t.Parallel()

	dialer := loopbackDialer(map[string][][]byte{
		"alice": {textDelta("evt-1", "hello")},
	})
	o, err := New(Config{GracePeriod: 500 * time.Millisecond}, virtclock.NewFake(), dialer, fakeAudio{})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	outcome, err := o.Run(context.Background(), "run-1", basicScenario())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.State != StateFinished {
		t.Fatalf("state = %s, want %s (reason: %s)", outcome.State, StateFinished, outcome.Reason)
	}
	if outcome.Incomplete {
		t.Fatalf("finished run must not be incomplete")
	}

	var sawText, sawAck bool
	for _, event := range outcome.Events {
		switch event.Type {
		case wire.EventTextDelta:
			if event.EventID == "evt-1" && event.Text == "hello" {
				sawText = true
			}
		case wire.EventHangupAck:
			sawAck = true
		}
	}
	if !sawText {
		t.Fatalf("expected the scripted text delta in the log, got %+v", outcome.Events)
	}
	if !sawAck {
		t.Fatalf("expected a hangup ack in the log, got %+v", outcome.Events)
	}
}

func TestRunIssuesTurnIDsPerUtterance(t *testing.T) {
	t.Parallel()

	dialer := loopbackDialer(map[string][][]byte{
		"alice": {textDelta("evt-1", "one"), textDelta("evt-2", "two")},
	})
	sc := basicScenario()
	sc.Actions = []scenario.TimedAction{
		{Kind: scenario.ActionSendAudio, Participant: "alice", Asset: "a", OffsetMS: 0},
		{Kind: scenario.ActionSendAudio, Participant: "alice", Asset: "b", OffsetMS: 500},
		{Kind: scenario.ActionHangup, Participant: "alice", OffsetMS: 900},
	}

	o, err := New(Config{GracePeriod: 500 * time.Millisecond}, virtclock.NewFake(), dialer, fakeAudio{})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	outcome, err := o.Run(context.Background(), "run-turns", sc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(outcome.Turns) != 2 {
		t.Fatalf("expected one turn per send_audio dispatch, got %+v", outcome.Turns)
	}
	if outcome.Turns[0].TurnID != "turn/run-turns/alice/000001" {
		t.Fatalf("unexpected first turn id: %q", outcome.Turns[0].TurnID)
	}
	if outcome.Turns[1].TurnID != "turn/run-turns/alice/000002" {
		t.Fatalf("unexpected second turn id: %q", outcome.Turns[1].TurnID)
	}
	if outcome.Turns[0].Asset != "a" || outcome.Turns[1].Asset != "b" {
		t.Fatalf("turns must record dispatch order: %+v", outcome.Turns)
	}
	if outcome.Turns[1].OffsetMS != 500 {
		t.Fatalf("turn must carry the action offset: %+v", outcome.Turns[1])
	}
}

func TestRunArrivalTimesAreNonDecreasing(t *testing.T) {
	t.Parallel()

	dialer := loopbackDialer(map[string][][]byte{
		"alice": {textDelta("evt-1", "one"), textDelta("evt-2", "two")},
	})
	sc := basicScenario()
	sc.Actions = []scenario.TimedAction{
		{Kind: scenario.ActionSendAudio, Participant: "alice", Asset: "a", OffsetMS: 0},
		{Kind: scenario.ActionSendAudio, Participant: "alice", Asset: "b", OffsetMS: 500},
		{Kind: scenario.ActionHangup, Participant: "alice", OffsetMS: 900},
	}

	o, err := New(Config{GracePeriod: 500 * time.Millisecond}, virtclock.NewFake(), dialer, fakeAudio{})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	outcome, err := o.Run(context.Background(), "run-2", sc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var last int64
	for i, event := range outcome.Events {
		if event.ArrivalMS < last {
			t.Fatalf("event %d arrival %d precedes %d", i, event.ArrivalMS, last)
		}
		last = event.ArrivalMS
	}
}

// recordingTransport captures sent frames so dispatch order can be checked.
type recordingTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed chan struct{}
	once   sync.Once
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{closed: make(chan struct{})}
}

func (r *recordingTransport) Send(ctx context.Context, frame []byte) error {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	r.mu.Lock()
	r.frames = append(r.frames, buf)
	r.mu.Unlock()
	return nil
}

func (r *recordingTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-r.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *recordingTransport) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func (r *recordingTransport) sent() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.frames))
	copy(out, r.frames)
	return out
}

func TestRunEqualOffsetsFireInDeclarationOrder(t *testing.T) {
	t.Parallel()

	conn := newRecordingTransport()
	dialer := transport.DialerFunc(func(ctx context.Context, participant string) (transport.Transport, error) {
		return conn, nil
	})

	sc := scenario.Scenario{
		Name:         "ties",
		Participants: []scenario.Participant{{ID: "alice", Language: "en"}},
		Actions: []scenario.TimedAction{
			{Kind: scenario.ActionSendAudio, Participant: "alice", Asset: "first", OffsetMS: 100},
			{Kind: scenario.ActionSendAudio, Participant: "alice", Asset: "second", OffsetMS: 100},
			{Kind: scenario.ActionSendAudio, Participant: "alice", Asset: "third", OffsetMS: 100},
		},
		ScoreMethod: "average",
	}

	o, err := New(Config{GracePeriod: 20 * time.Millisecond}, virtclock.NewFake(), dialer, fakeAudio{})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	outcome, err := o.Run(context.Background(), "run-ties", sc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.State != StateFinished {
		t.Fatalf("state = %s, want %s", outcome.State, StateFinished)
	}

	frames := conn.sent()
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	for i, wantAsset := range []string{"first", "second", "third"} {
		var frame struct {
			AudioData struct {
				Data string `json:"data"`
			} `json:"audioData"`
		}
		if err := json.Unmarshal(frames[i], &frame); err != nil {
			t.Fatalf("unmarshal frame %d: %v", i, err)
		}
		pcm, err := base64.StdEncoding.DecodeString(frame.AudioData.Data)
		if err != nil {
			t.Fatalf("decode frame %d payload: %v", i, err)
		}
		if string(pcm) != "pcm:"+wantAsset {
			t.Fatalf("frame %d carries %q, want asset %q", i, pcm, wantAsset)
		}
	}
}

// failingTransport drops the connection after a fixed number of sends.
type failingTransport struct {
	mu        sync.Mutex
	remaining int
	closed    chan struct{}
	once      sync.Once
}

func (f *failingTransport) Send(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining <= 0 {
		return fmt.Errorf("connection reset")
	}
	f.remaining--
	return nil
}

func (f *failingTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-f.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *failingTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func TestRunAbortsOnTransportFailureKeepingPartialLog(t *testing.T) {
	t.Parallel()

	dialer := transport.DialerFunc(func(ctx context.Context, participant string) (transport.Transport, error) {
		return &failingTransport{remaining: 1, closed: make(chan struct{})}, nil
	})

	sc := scenario.Scenario{
		Name:         "drop",
		Participants: []scenario.Participant{{ID: "alice", Language: "en"}},
		Actions: []scenario.TimedAction{
			{Kind: scenario.ActionSendAudio, Participant: "alice", Asset: "a", OffsetMS: 0},
			{Kind: scenario.ActionSendAudio, Participant: "alice", Asset: "b", OffsetMS: 100},
		},
		ScoreMethod: "average",
	}

	o, err := New(Config{GracePeriod: 20 * time.Millisecond}, virtclock.NewFake(), dialer, fakeAudio{})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	outcome, err := o.Run(context.Background(), "run-drop", sc)
	if err != nil {
		t.Fatalf("aborted runs must still return an outcome, got error: %v", err)
	}
	if outcome.State != StateAborted {
		t.Fatalf("state = %s, want %s", outcome.State, StateAborted)
	}
	if !outcome.Incomplete {
		t.Fatalf("aborted run must be flagged incomplete")
	}
	if outcome.Reason == "" {
		t.Fatalf("aborted run must carry a reason")
	}
	if outcome.Events == nil {
		t.Fatalf("aborted run must still deliver the partial log")
	}
}

func TestRunMissingAssetAborts(t *testing.T) {
	t.Parallel()

	dialer := loopbackDialer(nil)
	sc := basicScenario()
	sc.Actions = []scenario.TimedAction{
		{Kind: scenario.ActionSendAudio, Participant: "alice", Asset: "missing", OffsetMS: 0},
	}

	o, err := New(Config{GracePeriod: 20 * time.Millisecond}, virtclock.NewFake(), dialer, fakeAudio{})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	outcome, err := o.Run(context.Background(), "run-missing", sc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.State != StateAborted {
		t.Fatalf("state = %s, want %s", outcome.State, StateAborted)
	}
}

func TestRunCancellationDeliversPartialLog(t *testing.T) {
	t.Parallel()

	clock, err := virtclock.New(1.0)
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	dialer := loopbackDialer(map[string][][]byte{
		"alice": {textDelta("evt-1", "partial")},
	})

	sc := basicScenario()
	// The second action sits far in the future so cancellation wins.
	sc.Actions = []scenario.TimedAction{
		{Kind: scenario.ActionSendAudio, Participant: "alice", Asset: "a", OffsetMS: 0},
		{Kind: scenario.ActionSendAudio, Participant: "alice", Asset: "b", OffsetMS: 60_000},
	}

	o, err := New(Config{GracePeriod: 20 * time.Millisecond}, clock, dialer, fakeAudio{})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	outcome, err := o.Run(ctx, "run-cancel", sc)
	if err != nil {
		t.Fatalf("cancelled runs must still return an outcome, got error: %v", err)
	}
	if outcome.State != StateAborted {
		t.Fatalf("state = %s, want %s", outcome.State, StateAborted)
	}
	if !outcome.Incomplete {
		t.Fatalf("cancelled run must be flagged incomplete")
	}
}

func TestRunRejectsInvalidScenario(t *testing.T) {
	t.Parallel()

	o, err := New(Config{}, virtclock.NewFake(), loopbackDialer(nil), fakeAudio{})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	if _, err := o.Run(context.Background(), "run-bad", scenario.Scenario{}); err == nil {
		t.Fatalf("expected invalid scenario to be rejected")
	}
	if o.State() != StateIdle {
		t.Fatalf("rejected run must leave the orchestrator idle, got %s", o.State())
	}
}

func TestRunIsSingleUse(t *testing.T) {
	t.Parallel()

	dialer := loopbackDialer(map[string][][]byte{"alice": {textDelta("evt-1", "hello")}})
	o, err := New(Config{GracePeriod: 20 * time.Millisecond}, virtclock.NewFake(), dialer, fakeAudio{})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	if _, err := o.Run(context.Background(), "run-a", basicScenario()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := o.Run(context.Background(), "run-b", basicScenario()); err == nil {
		t.Fatalf("expected second run on a finished orchestrator to fail")
	}
}
