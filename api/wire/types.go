// Package wire defines the closed wire contract shared with the upstream
// speech-translation service. These types are the only place frame shapes
// may be constructed or interpreted.
package wire

import (
	"encoding/base64"
	"fmt"
)

// FrameKind discriminates outbound frame payloads.
type FrameKind string

const (
	FrameAudioData FrameKind = "audioData"
	FrameStopAudio FrameKind = "stopAudio"
)

// AudioPayload carries one chunk of base64 PCM16LE mono 16kHz audio.
// Timestamp and Participant are part of the upstream contract but are always
// transmitted as null by this engine.
type AudioPayload struct {
	Data        string  `json:"data"`
	Timestamp   *int64  `json:"timestamp"`
	Participant *string `json:"participant"`
	IsSilent    bool    `json:"isSilent"`
}

// StopPayload signals end of transmission for one participant.
type StopPayload struct {
	Participant *string `json:"participant"`
}

// OutboundFrame is the fixed outbound envelope. Exactly the payload matching
// Kind is populated; every other payload field is serialized as null.
type OutboundFrame struct {
	Kind      FrameKind     `json:"kind"`
	AudioData *AudioPayload `json:"audioData"`
	StopAudio *StopPayload  `json:"stopAudio"`
}

// Validate enforces the closed outbound schema.
func (f OutboundFrame) Validate() error {
	switch f.Kind {
	case FrameAudioData:
		if f.AudioData == nil {
			return fmt.Errorf("audioData payload is required for kind=audioData")
		}
		if f.StopAudio != nil {
			return fmt.Errorf("stopAudio must be null for kind=audioData")
		}
		if f.AudioData.Data == "" {
			return fmt.Errorf("audioData.data is required")
		}
		if _, err := base64.StdEncoding.DecodeString(f.AudioData.Data); err != nil {
			return fmt.Errorf("audioData.data must be valid base64: %w", err)
		}
		if f.AudioData.Timestamp != nil {
			return fmt.Errorf("audioData.timestamp must be null")
		}
		if f.AudioData.Participant != nil {
			return fmt.Errorf("audioData.participant must be null")
		}
		return nil
	case FrameStopAudio:
		if f.StopAudio == nil {
			return fmt.Errorf("stopAudio payload is required for kind=stopAudio")
		}
		if f.AudioData != nil {
			return fmt.Errorf("audioData must be null for kind=stopAudio")
		}
		return nil
	default:
		return fmt.Errorf("unsupported outbound frame kind: %q", f.Kind)
	}
}

// EventKind classifies decoded inbound traffic.
type EventKind string

const (
	EventAudio     EventKind = "audio"
	EventTextDelta EventKind = "text_delta"
	EventControl   EventKind = "control"
	EventHangupAck EventKind = "hangup_ack"
	// EventUnknown marks well-formed inbound frames with an unrecognized
	// kind. They are retained, not dropped, so runs stay auditable.
	EventUnknown EventKind = "unknown"
	// EventDecodeError marks inbound bytes that failed to decode.
	EventDecodeError EventKind = "decode_error"
)

// InboundEvent is a decoded inbound frame. Raw always holds the received
// bytes verbatim for diagnostics.
type InboundEvent struct {
	Kind           EventKind `json:"kind"`
	ParticipantID  string    `json:"participant_id,omitempty"`
	EventID        string    `json:"event_id,omitempty"`
	TurnID         string    `json:"turn_id,omitempty"`
	Text           string    `json:"text,omitempty"`
	SourceLanguage string    `json:"source_language,omitempty"`
	TargetLanguage string    `json:"target_language,omitempty"`
	Signal         string    `json:"signal,omitempty"`
	Raw            string    `json:"raw,omitempty"`
}
