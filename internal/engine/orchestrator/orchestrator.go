// Package orchestrator drives one scenario run end to end: it dials a
// transport per participant, schedules timed actions against the virtual
// clock, and owns the run lifecycle state machine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/atlas/translation-eval/api/wire"
	"github.com/atlas/translation-eval/internal/engine/collector"
	"github.com/atlas/translation-eval/internal/engine/identity"
	"github.com/atlas/translation-eval/internal/engine/protocol"
	"github.com/atlas/translation-eval/internal/engine/transport"
	"github.com/atlas/translation-eval/internal/scenario"
)

// State is the run lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateFinished State = "finished"
	StateAborted  State = "aborted"
)

// 16 kHz mono 16-bit PCM.
const pcmBytesPerMS = 32

// DefaultGracePeriod bounds the draining phase after the last action fired.
const DefaultGracePeriod = 2 * time.Second

// Clock is the scheduling view of the virtual clock.
type Clock interface {
	NowMS() int64
	UntilMS(offsetMS int64) time.Duration
}

// AudioSource resolves scenario asset names to raw PCM.
type AudioSource interface {
	ReadPCM(ctx context.Context, name string) ([]byte, error)
}

// Config tunes one orchestrator instance.
type Config struct {
	// GracePeriod is the wall-clock draining window after the final
	// action. Draining ends early once every hangup sent has been acked.
	GracePeriod time.Duration
	Logger      logrus.FieldLogger
}

// TurnRecord ties one dispatched utterance to its issued turn identifier.
type TurnRecord struct {
	TurnID      string `json:"turn_id"`
	Participant string `json:"participant"`
	Asset       string `json:"asset"`
	OffsetMS    int64  `json:"offset_ms"`
}

// RunOutcome is the terminal result of one run. Events is the frozen
// arrival-ordered log, present even for aborted runs. Turns lists the
// identifiers issued per send_audio dispatch, in dispatch order.
type RunOutcome struct {
	RunID      string
	Scenario   string
	State      State
	Events     []collector.CollectedEvent
	Turns      []TurnRecord
	Incomplete bool
	Reason     string
	DurationMS int64
}

// Orchestrator executes scenarios. One instance runs one scenario at a time.
type Orchestrator struct {
	clock  Clock
	dialer transport.Dialer
	audio  AudioSource
	grace  time.Duration
	logger logrus.FieldLogger

	mu    sync.Mutex
	state State
}

// New returns an orchestrator in the idle state.
func New(cfg Config, clock Clock, dialer transport.Dialer, audio AudioSource) (*Orchestrator, error) {
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if audio == nil {
		return nil, fmt.Errorf("audio source is required")
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	logger := cfg.Logger
	if logger == nil {
		noop := logrus.New()
		noop.SetOutput(io.Discard)
		logger = noop
	}
	return &Orchestrator{
		clock:  clock,
		dialer: dialer,
		audio:  audio,
		grace:  grace,
		logger: logger,
		state:  StateIdle,
	}, nil
}

// State reports the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) transition(to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()
	o.logger.WithFields(logrus.Fields{
		"from": from,
		"to":   to,
	}).Debug("run state transition")
}

// Run executes one scenario to a terminal state. Errors are returned only
// for failures before the run starts; once running, transport failures
// abort the run and the partial log is still delivered in the outcome.
func (o *Orchestrator) Run(ctx context.Context, runID string, sc scenario.Scenario) (RunOutcome, error) {
	if o.State() != StateIdle {
		return RunOutcome{}, fmt.Errorf("orchestrator is not idle")
	}
	if err := sc.Validate(); err != nil {
		return RunOutcome{}, fmt.Errorf("invalid scenario %q: %w", sc.Name, err)
	}

	log, err := collector.New(o.clock)
	if err != nil {
		return RunOutcome{}, err
	}

	conns := make(map[string]transport.Transport, len(sc.Participants))
	for _, p := range sc.Participants {
		conn, err := o.dialer.Dial(ctx, p.ID)
		if err != nil {
			closeAll(conns)
			return RunOutcome{}, fmt.Errorf("dial participant %q: %w", p.ID, err)
		}
		conns[p.ID] = conn
	}

	o.transition(StateRunning)
	o.logger.WithFields(logrus.Fields{
		"run_id":       runID,
		"scenario":     sc.Name,
		"participants": len(sc.Participants),
		"actions":      len(sc.Actions),
	}).Info("run started")

	run := &activeRun{
		orchestrator: o,
		runID:        runID,
		scenario:     sc,
		log:          log,
		conns:        conns,
		ids:          identity.NewService(),
		fatal:        make(chan error, len(conns)),
		acks:         make(chan struct{}, len(conns)*4),
		recvDone:     make(chan struct{}),
	}
	return run.execute(ctx), nil
}

// activeRun holds the mutable state of one in-flight run.
type activeRun struct {
	orchestrator *Orchestrator
	runID        string
	scenario     scenario.Scenario
	log          *collector.Collector
	conns        map[string]transport.Transport
	ids          *identity.Service
	turns        []TurnRecord

	fatal    chan error
	acks     chan struct{}
	recvDone chan struct{}

	hangupsSent int
}

func (r *activeRun) execute(ctx context.Context) RunOutcome {
	o := r.orchestrator

	var wg sync.WaitGroup
	for participant, conn := range r.conns {
		wg.Add(1)
		go func(participant string, conn transport.Transport) {
			defer wg.Done()
			r.receiveLoop(ctx, participant, conn)
		}(participant, conn)
	}
	go func() {
		wg.Wait()
		close(r.recvDone)
	}()

	abortReason := r.schedule(ctx)

	if abortReason == "" {
		o.transition(StateDraining)
		abortReason = r.drain(ctx)
	}

	closeAll(r.conns)
	<-r.recvDone
	r.log.Freeze()

	events, _ := r.log.Snapshot()
	outcome := RunOutcome{
		RunID:      r.runID,
		Scenario:   r.scenario.Name,
		Events:     events,
		Turns:      r.turns,
		DurationMS: o.clock.NowMS(),
	}
	if abortReason != "" {
		o.transition(StateAborted)
		outcome.State = StateAborted
		outcome.Incomplete = true
		outcome.Reason = abortReason
		o.logger.WithFields(logrus.Fields{
			"run_id": r.runID,
			"reason": abortReason,
			"events": len(events),
		}).Warn("run aborted, partial log retained")
		return outcome
	}

	o.transition(StateFinished)
	outcome.State = StateFinished
	o.logger.WithFields(logrus.Fields{
		"run_id":      r.runID,
		"events":      len(events),
		"duration_ms": outcome.DurationMS,
	}).Info("run finished")
	return outcome
}

// schedule fires every timed action at its virtual offset, in declaration
// order. Actions sharing an offset fire back to back in that order. Returns
// a non-empty abort reason on fatal failure.
func (r *activeRun) schedule(ctx context.Context) string {
	o := r.orchestrator
	for i, action := range r.scenario.Actions {
		wait := o.clock.UntilMS(action.OffsetMS)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Sprintf("run cancelled before action %d: %v", i, ctx.Err())
			case err := <-r.fatal:
				timer.Stop()
				return fmt.Sprintf("transport failure before action %d: %v", i, err)
			case <-timer.C:
			}
		} else {
			select {
			case <-ctx.Done():
				return fmt.Sprintf("run cancelled before action %d: %v", i, ctx.Err())
			case err := <-r.fatal:
				return fmt.Sprintf("transport failure before action %d: %v", i, err)
			default:
			}
		}

		if err := r.dispatch(ctx, action); err != nil {
			return fmt.Sprintf("action %d (%s at %dms): %v", i, action.Kind, action.OffsetMS, err)
		}
	}
	return ""
}

func (r *activeRun) dispatch(ctx context.Context, action scenario.TimedAction) error {
	switch action.Kind {
	case scenario.ActionSendAudio:
		pcm, err := r.orchestrator.audio.ReadPCM(ctx, action.Asset)
		if err != nil {
			return fmt.Errorf("read asset %q: %w", action.Asset, err)
		}
		turn, err := r.ids.NewTurnContext(r.runID, action.Participant)
		if err != nil {
			return err
		}
		r.turns = append(r.turns, TurnRecord{
			TurnID:      turn.TurnID,
			Participant: action.Participant,
			Asset:       action.Asset,
			OffsetMS:    action.OffsetMS,
		})
		r.orchestrator.logger.WithFields(logrus.Fields{
			"run_id":      r.runID,
			"turn_id":     turn.TurnID,
			"participant": action.Participant,
		}).Debug("dispatching utterance")
		return r.sendAudio(ctx, action.Participant, pcm, false)
	case scenario.ActionSilence:
		pcm := make([]byte, action.DurationMS*pcmBytesPerMS)
		for participant := range r.conns {
			if err := r.sendAudio(ctx, participant, pcm, true); err != nil {
				return err
			}
		}
		return nil
	case scenario.ActionHangup:
		frame, err := protocol.EncodeStop()
		if err != nil {
			return err
		}
		raw, err := protocol.Marshal(frame)
		if err != nil {
			return err
		}
		if err := r.conns[action.Participant].Send(ctx, raw); err != nil {
			return fmt.Errorf("send hangup to %q: %w", action.Participant, err)
		}
		r.hangupsSent++
		return nil
	default:
		return fmt.Errorf("unsupported action kind %q", action.Kind)
	}
}

func (r *activeRun) sendAudio(ctx context.Context, participant string, pcm []byte, silent bool) error {
	frame, err := protocol.EncodeAudio(pcm, silent)
	if err != nil {
		return err
	}
	raw, err := protocol.Marshal(frame)
	if err != nil {
		return err
	}
	if err := r.conns[participant].Send(ctx, raw); err != nil {
		return fmt.Errorf("send audio to %q: %w", participant, err)
	}
	return nil
}

// drain keeps receive loops collecting trailing events for the grace window.
// Ends early once every hangup sent has been acknowledged.
func (r *activeRun) drain(ctx context.Context) string {
	timer := time.NewTimer(r.orchestrator.grace)
	defer timer.Stop()

	acked := 0
	for {
		if r.hangupsSent > 0 && acked >= r.hangupsSent {
			return ""
		}
		select {
		case <-ctx.Done():
			return fmt.Sprintf("run cancelled while draining: %v", ctx.Err())
		case err := <-r.fatal:
			return fmt.Sprintf("transport failure while draining: %v", err)
		case <-r.acks:
			acked++
		case <-timer.C:
			return ""
		}
	}
}

// receiveLoop decodes inbound traffic for one participant until the
// transport closes. Malformed frames are recorded, not fatal; unexpected
// transport errors abort the run.
func (r *activeRun) receiveLoop(ctx context.Context, participant string, conn transport.Transport) {
	for {
		raw, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
				return
			}
			select {
			case r.fatal <- fmt.Errorf("participant %q: %w", participant, err):
			default:
			}
			return
		}

		event, err := protocol.Decode(raw)
		if err != nil {
			if _, recordErr := r.log.RecordDecodeFailure(string(raw), err); recordErr != nil {
				return
			}
			r.orchestrator.logger.WithFields(logrus.Fields{
				"run_id":      r.runID,
				"participant": participant,
			}).Warn("recorded malformed inbound frame")
			continue
		}
		if event.ParticipantID == "" {
			event.ParticipantID = participant
		}
		collected, err := r.log.Record(event)
		if err != nil {
			return
		}
		if collected.Type == wire.EventHangupAck {
			select {
			case r.acks <- struct{}{}:
			default:
			}
		}
	}
}

func closeAll(conns map[string]transport.Transport) {
	for _, conn := range conns {
		_ = conn.Close()
	}
}
