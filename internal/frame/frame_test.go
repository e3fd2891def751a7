package frame

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeText(t *testing.T) {
	f, err := Codec{}.Decode([]byte(`{"type":"text","content":"hello"}`))
	require.NoError(t, err)
	require.Equal(t, KindText, f.Kind)
	require.Equal(t, "hello", f.Content)
}

func TestDecodeAudio(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	raw := []byte(`{"type":"audio_chunk","data":"` + base64.StdEncoding.EncodeToString(payload) + `","seq":7}`)

	f, err := Codec{MaxPayloadBytes: 64}.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, KindAudio, f.Kind)
	require.Equal(t, payload, f.Payload)
	require.EqualValues(t, 7, f.Seq)
}

func TestDecodeControl(t *testing.T) {
	f, err := Codec{}.Decode([]byte(`{"type":"control","kind":"end_interview"}`))
	require.NoError(t, err)
	require.Equal(t, KindControl, f.Kind)
	require.Equal(t, ControlEndInterview, f.Control)
}

func TestDecodeError(t *testing.T) {
	f, err := Codec{}.Decode([]byte(`{"type":"error","content":"engine overloaded"}`))
	require.NoError(t, err)
	require.Equal(t, KindError, f.Kind)
	require.Equal(t, "engine overloaded", f.Content)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"invalid json":         `{"type":`,
		"unknown type":         `{"type":"screenshare"}`,
		"text without content": `{"type":"text"}`,
		"audio without data":   `{"type":"audio_chunk","seq":1}`,
		"bad base64":           `{"type":"video_frame","data":"!!!not-base64!!!"}`,
		"unknown control kind": `{"type":"control","kind":"mute"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Codec{}.Decode([]byte(raw))
			var malformed *MalformedFrameError
			require.ErrorAs(t, err, &malformed)
		})
	}
}

func TestDecodeOversizedPayload(t *testing.T) {
	payload := make([]byte, 128)
	raw := []byte(`{"type":"video_frame","data":"` + base64.StdEncoding.EncodeToString(payload) + `","seq":1}`)

	_, err := Codec{MaxPayloadBytes: 64}.Decode(raw)
	var tooLarge *FrameTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, KindVideo, tooLarge.Kind)
	require.Equal(t, 128, tooLarge.Size)
	require.Equal(t, 64, tooLarge.Limit)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := Codec{MaxPayloadBytes: 1 << 10}
	original := Frame{Kind: KindAudio, Payload: []byte("pcmpcm"), Seq: 42}

	raw, err := c.Encode(original)
	require.NoError(t, err)
	decoded, err := c.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, original, decoded)
}

func TestEncodeControl(t *testing.T) {
	raw, err := Codec{}.Encode(Control(ControlKeepalive))
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"control","kind":"keepalive"}`, string(raw))
}
