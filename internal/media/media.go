package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"
)

var (
	// LightGray is the placeholder colour used when generation fails.
	LightGray = color.RGBA{R: 211, G: 211, B: 211, A: 255}
	// MidnightBlue is the placeholder colour used by the repair scan.
	MidnightBlue = color.RGBA{R: 25, G: 25, B: 112, A: 255}
)

// PlaceholderPNG encodes a solid-colour PNG of the given size.
func PlaceholderPNG(width, height int, c color.Color) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid placeholder size %dx%d", width, height)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding placeholder: %w", err)
	}
	return buf.Bytes(), nil
}

// AudioInfo describes a narration file on disk.
type AudioInfo struct {
	Size            int64
	DurationSeconds float64
	Title           string
}

// ProbeAudio reads size, ID3 title and decoded MP3 duration of path. A file
// that is not decodable MP3 yields a zero duration without error.
func ProbeAudio(path string) (AudioInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return AudioInfo{}, err
	}
	out := AudioInfo{Size: info.Size()}
	if out.Size == 0 {
		return out, nil
	}

	out.Title = readTitle(path)
	if dur, err := mp3Duration(path); err == nil {
		out.DurationSeconds = dur
	}
	return out, nil
}

// MP3Duration returns the decoded length of an MP3 stream in seconds.
func MP3Duration(data []byte) (float64, error) {
	return decodeDuration(bytes.NewReader(data))
}

func readTitle(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(meta.Title())
}

func mp3Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return decodeDuration(f)
}

func decodeDuration(r io.Reader) (float64, error) {
	decoder := mp3.NewDecoder(r)
	var frame mp3.Frame
	var skipped int
	var total float64
	frames := 0

	for {
		err := decoder.Decode(&frame, &skipped)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return 0, err
		}
		frames++
		total += frame.Duration().Seconds()
	}

	if frames == 0 {
		return 0, errors.New("no mp3 frames found")
	}
	return total, nil
}
