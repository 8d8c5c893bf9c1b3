package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/atlas/translation-eval/api/wire"
)

func TestEncodeAudioProducesFixedShape(t *testing.T) {
	t.Parallel()

	frame, err := EncodeAudio([]byte{0x01, 0x02, 0x03, 0x04}, false)
	if err != nil {
		t.Fatalf("encode audio: %v", err)
	}
	raw, err := Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}

	// The upstream contract is closed: exactly these keys, no additions.
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	for _, key := range []string{"kind", "audioData", "stopAudio"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("missing required key %q in %s", key, raw)
		}
	}
	if len(decoded) != 3 {
		t.Fatalf("expected exactly 3 top-level keys, got %d in %s", len(decoded), raw)
	}
	if string(decoded["stopAudio"]) != "null" {
		t.Fatalf("stopAudio must serialize as null, got %s", decoded["stopAudio"])
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(decoded["audioData"], &payload); err != nil {
		t.Fatalf("unmarshal audioData: %v", err)
	}
	if len(payload) != 4 {
		t.Fatalf("expected exactly 4 audioData keys, got %d in %s", len(payload), decoded["audioData"])
	}
	if string(payload["timestamp"]) != "null" || string(payload["participant"]) != "null" {
		t.Fatalf("timestamp and participant must serialize as null: %s", decoded["audioData"])
	}
	if string(payload["isSilent"]) != "false" {
		t.Fatalf("expected isSilent=false, got %s", payload["isSilent"])
	}
}

func TestEncodeAudioRejectsEmptyPayload(t *testing.T) {
	t.Parallel()

	if _, err := EncodeAudio(nil, false); err == nil {
		t.Fatalf("expected empty pcm to be rejected")
	}
}

func TestEncodeStopFrame(t *testing.T) {
	t.Parallel()

	frame, err := EncodeStop()
	if err != nil {
		t.Fatalf("encode stop: %v", err)
	}
	raw, err := Marshal(frame)
	if err != nil {
		t.Fatalf("marshal stop: %v", err)
	}
	if !strings.Contains(string(raw), `"kind":"stopAudio"`) {
		t.Fatalf("unexpected stop frame: %s", raw)
	}
	if !strings.Contains(string(raw), `"audioData":null`) {
		t.Fatalf("audioData must be null on stop frames: %s", raw)
	}
}

func TestMarshalRejectsUndefinedFields(t *testing.T) {
	t.Parallel()

	timestamp := int64(12)
	frame := wire.OutboundFrame{
		Kind: wire.FrameAudioData,
		AudioData: &wire.AudioPayload{
			Data:      "AAECAw==",
			Timestamp: &timestamp,
		},
	}
	if _, err := Marshal(frame); err == nil {
		t.Fatalf("expected non-null timestamp to be rejected")
	}
}

func TestDecodeTextDelta(t *testing.T) {
	t.Parallel()

	raw := `{"kind":"textDelta","textDelta":{"text":"tengo dolor","participant":"patient","eventId":"evt-3","turnId":"turn-1","sourceLanguage":"en","targetLanguage":"es"}}`
	event, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Kind != wire.EventTextDelta {
		t.Fatalf("expected text_delta, got %s", event.Kind)
	}
	if event.Text != "tengo dolor" || event.EventID != "evt-3" || event.TargetLanguage != "es" {
		t.Fatalf("unexpected decoded event: %+v", event)
	}
	if event.Raw != raw {
		t.Fatalf("raw text must be preserved")
	}
}

func TestDecodeHangupAckControl(t *testing.T) {
	t.Parallel()

	event, err := Decode([]byte(`{"kind":"control","control":{"signal":"hangupAck","participant":"clinician"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Kind != wire.EventHangupAck {
		t.Fatalf("expected hangup_ack, got %s", event.Kind)
	}
}

func TestDecodeUnknownKindIsNotAnError(t *testing.T) {
	t.Parallel()

	event, err := Decode([]byte(`{"kind":"presenceUpdate","presenceUpdate":{"count":2}}`))
	if err != nil {
		t.Fatalf("unknown kinds must decode, got %v", err)
	}
	if event.Kind != wire.EventUnknown {
		t.Fatalf("expected unknown event, got %s", event.Kind)
	}
}

func TestDecodeMalformedJSONYieldsDecodeError(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{`{"kind":`, ``, `{"noKind":true}`} {
		_, err := Decode([]byte(raw))
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) {
			t.Fatalf("expected DecodeError for %q, got %v", raw, err)
		}
		if decodeErr.Raw != raw {
			t.Fatalf("decode error must carry raw text, got %q", decodeErr.Raw)
		}
	}
}
