package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVArchiver writes a turn's accumulated PCM to a mono 16-bit WAV file and
// returns the file path, which is stored as the message content reference.
type WAVArchiver struct {
	dir        string
	sampleRate int
}

// NewWAVArchiver creates dir if needed. sampleRate is the PCM rate the
// client streams at; chunks are 16-bit little-endian mono.
func NewWAVArchiver(dir string, sampleRate int) (*WAVArchiver, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive dir: %w", err)
	}
	return &WAVArchiver{dir: dir, sampleRate: sampleRate}, nil
}

func (a *WAVArchiver) ArchiveAudio(sessionID string, pcm []byte) (string, error) {
	if len(pcm) < 2 {
		return "", errors.New("empty pcm turn")
	}

	name := fmt.Sprintf("%s-%d.wav", sessionID, time.Now().UnixMilli())
	path := filepath.Join(a.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}

	enc := wav.NewEncoder(f, a.sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: a.sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return "", fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("finalize wav: %w", err)
	}
	return path, nil
}
