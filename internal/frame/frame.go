package frame

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Kind identifies the variant of a Frame.
type Kind string

const (
	KindText    Kind = "text"
	KindAudio   Kind = "audio_chunk"
	KindVideo   Kind = "video_frame"
	KindControl Kind = "control"
	KindError   Kind = "error"
)

// ControlKind identifies the signal carried by a control frame.
type ControlKind string

const (
	ControlEndInterview ControlKind = "end_interview"
	ControlKeepalive    ControlKind = "keepalive"
)

// Frame is one decoded unit of wire data exchanged over a live session.
// Exactly the fields relevant to Kind are populated: Content for text and
// error frames, Payload+Seq for audio/video, Control for control frames.
type Frame struct {
	Kind    Kind
	Content string
	Payload []byte
	Seq     int64
	Control ControlKind
}

// MalformedFrameError reports a wire message that could not be interpreted.
type MalformedFrameError struct {
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return "malformed frame: " + e.Reason
}

// FrameTooLargeError reports a media payload over the configured limit.
// Oversized payloads are rejected rather than truncated; truncation would
// corrupt the engine's stream state.
type FrameTooLargeError struct {
	Kind  Kind
	Size  int
	Limit int
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("%s payload %d bytes exceeds limit %d", e.Kind, e.Size, e.Limit)
}

// envelope is the JSON wire shape shared by client and engine transports.
type envelope struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Data    string `json:"data,omitempty"`
	Seq     int64  `json:"seq,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// Codec validates and converts wire messages to and from Frames.
// The zero value accepts payloads of any size; set MaxPayloadBytes to
// enforce the media size policy.
type Codec struct {
	MaxPayloadBytes int
}

// Decode parses a raw wire message into a Frame.
func (c Codec) Decode(raw []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Frame{}, &MalformedFrameError{Reason: "invalid json: " + err.Error()}
	}

	switch Kind(env.Type) {
	case KindText:
		if env.Content == "" {
			return Frame{}, &MalformedFrameError{Reason: "text frame missing content"}
		}
		return Frame{Kind: KindText, Content: env.Content}, nil

	case KindAudio, KindVideo:
		if env.Data == "" {
			return Frame{}, &MalformedFrameError{Reason: string(env.Type) + " frame missing data"}
		}
		payload, err := base64.StdEncoding.DecodeString(env.Data)
		if err != nil {
			return Frame{}, &MalformedFrameError{Reason: "invalid base64 payload"}
		}
		if c.MaxPayloadBytes > 0 && len(payload) > c.MaxPayloadBytes {
			return Frame{}, &FrameTooLargeError{Kind: Kind(env.Type), Size: len(payload), Limit: c.MaxPayloadBytes}
		}
		return Frame{Kind: Kind(env.Type), Payload: payload, Seq: env.Seq}, nil

	case KindError:
		return Frame{Kind: KindError, Content: env.Content}, nil

	case KindControl:
		switch ControlKind(env.Kind) {
		case ControlEndInterview, ControlKeepalive:
			return Frame{Kind: KindControl, Control: ControlKind(env.Kind)}, nil
		default:
			return Frame{}, &MalformedFrameError{Reason: "unknown control kind: " + env.Kind}
		}

	default:
		return Frame{}, &MalformedFrameError{Reason: "unknown frame type: " + env.Type}
	}
}

// Encode serializes a Frame to its wire representation.
func (c Codec) Encode(f Frame) ([]byte, error) {
	env := envelope{Type: string(f.Kind)}
	switch f.Kind {
	case KindText, KindError:
		env.Content = f.Content
	case KindAudio, KindVideo:
		env.Data = base64.StdEncoding.EncodeToString(f.Payload)
		env.Seq = f.Seq
	case KindControl:
		env.Kind = string(f.Control)
	default:
		return nil, &MalformedFrameError{Reason: "unknown frame type: " + string(f.Kind)}
	}
	return json.Marshal(env)
}

// Control builds a control frame of the given kind.
func Control(kind ControlKind) Frame {
	return Frame{Kind: KindControl, Control: kind}
}

// Text builds a text frame.
func Text(content string) Frame {
	return Frame{Kind: KindText, Content: content}
}

// Error builds an in-band error frame sent back to the originating peer.
func Error(msg string) Frame {
	return Frame{Kind: KindError, Content: msg}
}

// IsMedia reports whether the frame carries lossy media (audio or video).
func (f Frame) IsMedia() bool {
	return f.Kind == KindAudio || f.Kind == KindVideo
}
