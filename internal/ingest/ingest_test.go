package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestImageDirReadsInOrderAndRewinds(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002.jpg", "001.jpg", "notes.txt", "003.JPEG"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	src, err := OpenImageDir(context.Background(), dir, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var got []string
	for {
		f, ok := src.Read()
		if !ok {
			break
		}
		got = append(got, string(f.JPEG))
	}
	if len(got) != 3 || got[0] != "001.jpg" || got[2] != "003.JPEG" {
		t.Fatalf("order: %v", got)
	}
	if err := src.Rewind(); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	f, ok := src.Read()
	if !ok || string(f.JPEG) != "001.jpg" || f.Seq != 4 {
		t.Fatalf("after rewind: %q seq=%d ok=%v", f.JPEG, f.Seq, ok)
	}
}

func TestOpenImageDirEmpty(t *testing.T) {
	if _, err := OpenImageDir(context.Background(), t.TempDir(), 0); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}

func TestPacerWaits(t *testing.T) {
	p := NewPacer(50)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 4; i++ {
		if !p.Wait(ctx) {
			t.Fatalf("wait returned false")
		}
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("pacer too fast: %s", elapsed)
	}
}

func TestPacerCancel(t *testing.T) {
	p := NewPacer(1)
	ctx, cancel := context.WithCancel(context.Background())
	p.Wait(ctx)
	cancel()
	if p.Wait(ctx) {
		t.Fatalf("expected cancelled wait to return false")
	}
}

func TestNilPacer(t *testing.T) {
	var p *Pacer
	if !p.Wait(context.Background()) {
		t.Fatalf("nil pacer should not block")
	}
}

func TestIsLive(t *testing.T) {
	cases := map[string]bool{
		"rtsp://10.0.0.5/stream1": true,
		"http://cam/mjpg":         true,
		"file:///videos/a.mp4":    false,
		"videos/camera1.mp4":      false,
		"dir:frames/camera1":      false,
		"":                        false,
	}
	for source, want := range cases {
		if got := IsLive(source); got != want {
			t.Fatalf("IsLive(%q) = %v, want %v", source, got, want)
		}
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := Backoff{Min: 10 * time.Millisecond, Max: 35 * time.Millisecond}
	want := []time.Duration{10, 20, 35, 35}
	for i, w := range want {
		if got := b.Next(); got != w*time.Millisecond {
			t.Fatalf("step %d: got %v, want %v", i, got, w*time.Millisecond)
		}
	}
	b.Reset()
	if got := b.Next(); got != 10*time.Millisecond {
		t.Fatalf("after reset: got %v", got)
	}

	var zero Backoff
	if got := zero.Next(); got != defaultBackoffMin {
		t.Fatalf("zero value: got %v", got)
	}
}
