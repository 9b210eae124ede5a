package usecase

import (
	"errors"
	"io"
	"os"

	"dictamic/internal/domain"
	"dictamic/internal/ports"
)

// chunkClock derives monotonic chunk time ranges from the PCM byte offset.
type chunkClock struct {
	sampleRate int
	channels   int
	bytes      int64
}

func (c *chunkClock) ms(bytes int64) int64 {
	frameBytes := int64(2 * c.channels)
	return bytes / frameBytes * 1000 / int64(c.sampleRate)
}

// next returns a chunk for pcm, or false when pcm is too short to span a
// millisecond; such bytes are carried into the following read.
func (c *chunkClock) next(pcm []byte) (domain.StreamChunk, bool) {
	t0 := c.ms(c.bytes)
	t1 := c.ms(c.bytes + int64(len(pcm)))
	chunk := domain.StreamChunk{PCM16: pcm, SampleRate: c.sampleRate, T0MS: t0, T1MS: t1}
	if !chunk.Valid() {
		return domain.StreamChunk{}, false
	}
	c.bytes += int64(len(pcm))
	return chunk, true
}

type pumpSink struct {
	send      func(domain.StreamChunk)
	recording ports.AudioRecording
	onDrop    func()
	onFailure func(error)

	// onArchiveFailure fires on the first recording write error; the pump
	// stops archiving after it.
	onArchiveFailure func(error)
}

// pumpAudioChunks reads capture output until EOF and forwards whole-sample
// chunks. It never blocks on the network.
func pumpAudioChunks(audio ports.AudioSession, chunkSize int, sampleRate int, channels int, sink pumpSink, done chan struct{}) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 3200
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}

	clock := &chunkClock{sampleRate: sampleRate, channels: channels}
	frame := 2 * channels
	buf := make([]byte, chunkSize)
	var carry []byte
	recording := sink.recording

	for {
		n, err := audio.Read(buf)
		if n > 0 {
			carry = append(carry, buf[:n]...)
			whole := len(carry) - len(carry)%frame
			if whole > 0 {
				pcm := append([]byte(nil), carry[:whole]...)
				if chunk, ok := clock.next(pcm); ok {
					sink.send(chunk)
					if recording != nil {
						if err := recording.Write(pcm); err != nil {
							recording = nil
							if sink.onArchiveFailure != nil {
								sink.onArchiveFailure(err)
							}
						}
					}
					carry = append(carry[:0], carry[whole:]...)
				}
			}
		}
		if err != nil {
			if len(carry) > 0 && sink.onDrop != nil {
				sink.onDrop()
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && sink.onFailure != nil {
				sink.onFailure(err)
			}
			return
		}
	}
}
