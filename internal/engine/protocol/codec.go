// Package protocol is the single encode/decode boundary between the engine
// and the upstream wire contract.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atlas/translation-eval/api/wire"
)

// DecodeError reports a malformed inbound frame. The raw text is preserved
// so the failure can be audited after the run.
type DecodeError struct {
	Raw   string
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode inbound frame: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// EncodeAudio builds the fixed-shape outbound audio frame for one PCM chunk.
func EncodeAudio(pcm []byte, isSilent bool) (wire.OutboundFrame, error) {
	if len(pcm) == 0 {
		return wire.OutboundFrame{}, fmt.Errorf("pcm payload is required")
	}
	frame := wire.OutboundFrame{
		Kind: wire.FrameAudioData,
		AudioData: &wire.AudioPayload{
			Data:     base64.StdEncoding.EncodeToString(pcm),
			IsSilent: isSilent,
		},
	}
	if err := frame.Validate(); err != nil {
		return wire.OutboundFrame{}, err
	}
	return frame, nil
}

// EncodeStop builds the outbound stop frame used for hangup.
func EncodeStop() (wire.OutboundFrame, error) {
	frame := wire.OutboundFrame{
		Kind:      wire.FrameStopAudio,
		StopAudio: &wire.StopPayload{},
	}
	if err := frame.Validate(); err != nil {
		return wire.OutboundFrame{}, err
	}
	return frame, nil
}

// Marshal serializes an outbound frame after enforcing the closed schema.
func Marshal(frame wire.OutboundFrame) ([]byte, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(frame)
}

// inboundEnvelope mirrors the upstream inbound frame shape.
type inboundEnvelope struct {
	Kind      string `json:"kind"`
	AudioData *struct {
		Data        string `json:"data"`
		Participant string `json:"participant"`
		EventID     string `json:"eventId"`
		TurnID      string `json:"turnId"`
	} `json:"audioData"`
	TextDelta *struct {
		Text           string `json:"text"`
		Participant    string `json:"participant"`
		EventID        string `json:"eventId"`
		TurnID         string `json:"turnId"`
		SourceLanguage string `json:"sourceLanguage"`
		TargetLanguage string `json:"targetLanguage"`
	} `json:"textDelta"`
	Control *struct {
		Signal      string `json:"signal"`
		Participant string `json:"participant"`
		EventID     string `json:"eventId"`
		Reason      string `json:"reason"`
	} `json:"control"`
}

// Decode parses one inbound frame. Unrecognized kinds yield a typed unknown
// event rather than an error; malformed JSON yields a DecodeError.
func Decode(raw []byte) (wire.InboundEvent, error) {
	text := string(raw)
	if strings.TrimSpace(text) == "" {
		return wire.InboundEvent{}, &DecodeError{Raw: text, Cause: fmt.Errorf("empty frame")}
	}

	var envelope inboundEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return wire.InboundEvent{}, &DecodeError{Raw: text, Cause: err}
	}
	if envelope.Kind == "" {
		return wire.InboundEvent{}, &DecodeError{Raw: text, Cause: fmt.Errorf("missing kind discriminator")}
	}

	switch envelope.Kind {
	case "audioData":
		event := wire.InboundEvent{Kind: wire.EventAudio, Raw: text}
		if envelope.AudioData != nil {
			event.ParticipantID = envelope.AudioData.Participant
			event.EventID = envelope.AudioData.EventID
			event.TurnID = envelope.AudioData.TurnID
		}
		return event, nil
	case "textDelta":
		event := wire.InboundEvent{Kind: wire.EventTextDelta, Raw: text}
		if envelope.TextDelta == nil {
			return wire.InboundEvent{}, &DecodeError{Raw: text, Cause: fmt.Errorf("textDelta payload is required")}
		}
		event.Text = envelope.TextDelta.Text
		event.ParticipantID = envelope.TextDelta.Participant
		event.EventID = envelope.TextDelta.EventID
		event.TurnID = envelope.TextDelta.TurnID
		event.SourceLanguage = envelope.TextDelta.SourceLanguage
		event.TargetLanguage = envelope.TextDelta.TargetLanguage
		return event, nil
	case "control":
		event := wire.InboundEvent{Kind: wire.EventControl, Raw: text}
		if envelope.Control != nil {
			event.Signal = envelope.Control.Signal
			event.ParticipantID = envelope.Control.Participant
			event.EventID = envelope.Control.EventID
			if envelope.Control.Signal == "hangupAck" {
				event.Kind = wire.EventHangupAck
			}
		}
		return event, nil
	default:
		return wire.InboundEvent{Kind: wire.EventUnknown, Raw: text}, nil
	}
}
