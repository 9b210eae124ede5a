package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"dictamic/internal/ports"
)

// WAVArchive writes each session's PCM to <dir>/session-<id>.wav.
type WAVArchive struct {
	dir string
}

func NewWAVArchive(dir string) *WAVArchive {
	return &WAVArchive{dir: dir}
}

func (a *WAVArchive) Open(sessionID string, sampleRate int, channels int) (ports.AudioRecording, error) {
	if a.dir == "" {
		return nil, errors.New("archive directory not configured")
	}
	if channels <= 0 {
		channels = 1
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	path := filepath.Join(a.dir, "session-"+sessionID+".wav")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav: %w", err)
	}
	return &wavRecording{
		path:   path,
		file:   file,
		enc:    wav.NewEncoder(file, sampleRate, 16, channels, 1),
		format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
	}, nil
}

// Latest returns the most recently written session WAV.
func (a *WAVArchive) Latest() (string, error) {
	matches, err := filepath.Glob(filepath.Join(a.dir, "session-*.wav"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", os.ErrNotExist
	}
	sort.Slice(matches, func(i, j int) bool {
		return modTime(matches[i]) > modTime(matches[j])
	})
	return matches[0], nil
}

func modTime(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}

type wavRecording struct {
	path   string
	file   *os.File
	enc    *wav.Encoder
	format *audio.Format

	mu      sync.Mutex
	samples []int
	closed  bool
}

// Write appends little-endian 16-bit samples. A trailing odd byte is dropped.
func (r *wavRecording) Write(pcm16 []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return os.ErrClosed
	}
	n := len(pcm16) / 2
	if cap(r.samples) < n {
		r.samples = make([]int, n)
	}
	samples := r.samples[:n]
	for i := range samples {
		samples[i] = int(int16(uint16(pcm16[2*i]) | uint16(pcm16[2*i+1])<<8))
	}
	return r.enc.Write(&audio.IntBuffer{Format: r.format, Data: samples, SourceBitDepth: 16})
}

func (r *wavRecording) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	encErr := r.enc.Close()
	fileErr := r.file.Close()
	if encErr != nil {
		return fmt.Errorf("finalize wav: %w", encErr)
	}
	return fileErr
}

func (r *wavRecording) Path() string {
	return r.path
}
