package media

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"
)

func TestArchiveAudioRoundTrip(t *testing.T) {
	a, err := NewWAVArchiver(t.TempDir(), 16000)
	require.NoError(t, err)

	samples := []int16{0, 1000, -1000, 32767, -32768}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(s))
	}

	path, err := a.ArchiveAudio("sess-1", pcm)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	require.EqualValues(t, 16000, dec.SampleRate)
	require.EqualValues(t, 1, dec.NumChans)

	require.Len(t, buf.Data, len(samples))
	for i, s := range samples {
		require.EqualValues(t, s, buf.Data[i])
	}
}

func TestArchiveAudioRejectsEmptyTurn(t *testing.T) {
	a, err := NewWAVArchiver(t.TempDir(), 16000)
	require.NoError(t, err)

	_, err = a.ArchiveAudio("sess-1", nil)
	require.Error(t, err)
}

func TestArchiveAudioDefaultsSampleRate(t *testing.T) {
	a, err := NewWAVArchiver(t.TempDir(), 0)
	require.NoError(t, err)
	require.Equal(t, 16000, a.sampleRate)
}
