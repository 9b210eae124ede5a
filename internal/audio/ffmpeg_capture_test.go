package audio

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"dictamic/internal/ports"
)

func TestFFMPEGCaptureStartReadAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'hello'\nsleep 2\n")
	capture := NewFFMPEGCapture(script, nil)

	session, err := capture.Start(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	buf := make([]byte, 8)
	n, readErr := session.Read(buf)
	if n <= 0 {
		t.Fatalf("expected audio bytes, got n=%d err=%v", n, readErr)
	}
	if !strings.Contains(string(buf[:n]), "hello") {
		t.Fatalf("unexpected bytes: %q", string(buf[:n]))
	}

	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second stop should be a no-op, got %v", err)
	}
}

func TestFFMPEGCaptureStartEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no such device' 1>&2\nexit 1\n")
	capture := NewFFMPEGCapture(script, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := capture.Start(ctx, ports.AudioConfig{})
	if err == nil {
		t.Fatal("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before capture started") || !strings.Contains(err.Error(), "no such device") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestArgsApplyMonoPCMDefaults(t *testing.T) {
	t.Parallel()

	args := strings.Join(Args(ports.AudioConfig{InputFormat: "avfoundation", InputDevice: ":0"}), " ")
	for _, want := range []string{"-f avfoundation", "-i :0", "-ac 1", "-ar 16000", "-f s16le -"} {
		if !strings.Contains(args, want) {
			t.Fatalf("missing %q in %q", want, args)
		}
	}
}

func TestExitErrorIgnoresExitStatus(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-c", "exit 1").Run()
	if err == nil {
		t.Fatal("expected command to fail")
	}
	if got := exitError(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func TestWAVArchiveWritesDecodableFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := NewWAVArchive(dir)
	rec, err := archive.Open("abc", 16000, 1)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	pcm := []byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80, 0x7f}
	if err := rec.Write(pcm); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if rec.Path() != filepath.Join(dir, "session-abc.wav") {
		t.Fatalf("unexpected path %s", rec.Path())
	}

	f, err := os.Open(rec.Path())
	if err != nil {
		t.Fatalf("open wav: %v", err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 {
		t.Fatalf("unexpected header: rate=%d chans=%d", dec.SampleRate, dec.NumChans)
	}
	want := []int{1, -1, -32768}
	if len(buf.Data) != len(want) {
		t.Fatalf("unexpected samples: %v", buf.Data)
	}
	for i := range want {
		if buf.Data[i] != want[i] {
			t.Fatalf("sample %d: got %d want %d", i, buf.Data[i], want[i])
		}
	}

	latest, err := archive.Latest()
	if err != nil || latest != rec.Path() {
		t.Fatalf("unexpected latest %q err=%v", latest, err)
	}
}

func TestWAVArchiveLatestEmpty(t *testing.T) {
	t.Parallel()

	if _, err := NewWAVArchive(t.TempDir()).Latest(); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
