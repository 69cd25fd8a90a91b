package handler

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/photo3d/photo3d/handler/backend"
)

// writePhoto writes a w×h test image at dir/name in the given format.
func writePhoto(t *testing.T, dir, name string, w, h int, format imaging.Format) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()
	if format == imaging.PNG {
		require.NoError(t, png.Encode(f, img))
	} else {
		require.NoError(t, imaging.Encode(f, img, format))
	}
	return path
}

// writeOrientedJPEG writes a w×h JPEG whose left half is red and right half is
// blue, tagged with the given EXIF orientation.
func writeOrientedJPEG(t *testing.T, dir, name string, w, h, orientation int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: 255, A: 255}
			if x >= w/2 {
				c = color.NRGBA{B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	var enc bytes.Buffer
	require.NoError(t, imaging.Encode(&enc, img, imaging.JPEG, imaging.JPEGQuality(95)))

	// Big-endian TIFF header with a single IFD0 entry: orientation, SHORT, count 1.
	var tiff bytes.Buffer
	tiff.WriteString("MM")
	for _, v := range []any{uint16(0x2A), uint32(8), uint16(1),
		uint16(exifOrientationTag), uint16(3), uint32(1), uint16(orientation), uint16(0), uint32(0)} {
		require.NoError(t, binary.Write(&tiff, binary.BigEndian, v))
	}
	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)

	var out bytes.Buffer
	out.Write(enc.Bytes()[:2]) // SOI
	out.Write([]byte{0xFF, 0xE1})
	require.NoError(t, binary.Write(&out, binary.BigEndian, uint16(len(payload)+2)))
	out.Write(payload)
	out.Write(enc.Bytes()[2:])

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	return path
}

// fakeBackend records jobs and writes a marker output unless err is set.
type fakeBackend struct {
	mu        sync.Mutex
	jobs      []backend.Job
	inputSeen []image.Config
	err       error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Convert(ctx context.Context, job backend.Job) (backend.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	if in, err := os.Open(job.Input); err == nil {
		if cfg, _, err := image.DecodeConfig(in); err == nil {
			f.inputSeen = append(f.inputSeen, cfg)
		}
		_ = in.Close()
	}
	if f.err != nil {
		return backend.Result{}, f.err
	}
	if err := ctx.Err(); err != nil {
		return backend.Result{}, err
	}
	if err := os.WriteFile(job.Output, []byte("3d"), 0o644); err != nil {
		return backend.Result{}, err
	}
	return backend.Result{Output: job.Output, Bytes: 2}, nil
}
