package media

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestPlaceholderPNG(t *testing.T) {
	data, err := PlaceholderPNG(64, 48, MidnightBlue)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding placeholder: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Errorf("unexpected bounds %v", b)
	}
	r, g, b, _ := img.At(10, 10).RGBA()
	if r>>8 != 25 || g>>8 != 25 || b>>8 != 112 {
		t.Errorf("unexpected colour %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

func TestPlaceholderPNGInvalidSize(t *testing.T) {
	if _, err := PlaceholderPNG(0, 10, LightGray); err == nil {
		t.Error("expected error for zero width")
	}
}

func TestProbeAudioEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "story_audio.mp3")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := ProbeAudio(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Size != 0 || info.DurationSeconds != 0 {
		t.Errorf("expected empty info, got %+v", info)
	}
}

func TestProbeAudioNotMP3(t *testing.T) {
	path := filepath.Join(t.TempDir(), "story_audio.mp3")
	if err := os.WriteFile(path, []byte("definitely not audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := ProbeAudio(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Size == 0 {
		t.Error("expected size to be reported")
	}
	if info.DurationSeconds != 0 {
		t.Errorf("expected zero duration, got %v", info.DurationSeconds)
	}
}

func TestProbeAudioMissing(t *testing.T) {
	if _, err := ProbeAudio(filepath.Join(t.TempDir(), "nope.mp3")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMP3DurationGarbage(t *testing.T) {
	if _, err := MP3Duration([]byte("garbage")); err == nil {
		t.Error("expected error for non-mp3 data")
	}
}

// id3Tagged prefixes body with an ID3v2.3 tag carrying a TIT2 title frame.
func id3Tagged(title string, body []byte) []byte {
	payload := append([]byte{0}, title...)
	var frame []byte
	frame = append(frame, "TIT2"...)
	frame = append(frame, 0, 0, 0, byte(len(payload)))
	frame = append(frame, 0, 0)
	frame = append(frame, payload...)

	padding := make([]byte, 10)
	size := len(frame) + len(padding)

	var out []byte
	out = append(out, "ID3"...)
	out = append(out, 3, 0, 0)
	out = append(out, 0, 0, byte(size>>7), byte(size&0x7f))
	out = append(out, frame...)
	out = append(out, padding...)
	return append(out, body...)
}

func TestProbeAudioReadsTitle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "story_audio.mp3")
	if err := os.WriteFile(path, id3Tagged("The Sleepy Fox", []byte("no frames here")), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := ProbeAudio(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Title != "The Sleepy Fox" {
		t.Errorf("expected ID3 title, got %q", info.Title)
	}
}
