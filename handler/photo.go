package handler

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // registers the webp decoder with image.Decode
)

var (
	// ErrNoPhoto is returned when a handler is constructed without a photo path.
	ErrNoPhoto = errors.New("no photo path given")
	// ErrPhotoNotFound is returned when the photo path does not exist.
	ErrPhotoNotFound = errors.New("photo not found")
	// ErrUnsupportedPhoto is returned when the file is not a decodable image.
	ErrUnsupportedPhoto = errors.New("unsupported photo")
	// ErrOutputIsPhoto is returned when the output path resolves to the photo itself.
	ErrOutputIsPhoto = errors.New("output would overwrite the photo")
)

// knownFormats are the format names image.DecodeConfig reports for the
// decoders linked into this binary.
var knownFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"tiff": true,
	"bmp":  true,
	"webp": true,
}

// encodable maps formats imaging can write back out.
var encodable = map[string]imaging.Format{
	"jpeg": imaging.JPEG,
	"png":  imaging.PNG,
	"gif":  imaging.GIF,
	"tiff": imaging.TIFF,
	"bmp":  imaging.BMP,
}

func formatNames() []string {
	names := make([]string, 0, len(knownFormats))
	for name := range knownFormats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Photo is a decoded input photo with EXIF orientation applied.
// Orientation is the EXIF value found in the file, 1 when it had none.
type Photo struct {
	Path        string
	Format      string
	Orientation int
	Image       image.Image
}

func (p *Photo) Width() int { return p.Image.Bounds().Dx() }
func (p *Photo) Height() int { return p.Image.Bounds().Dy() }

// LoadPhoto decodes the photo at path.
func LoadPhoto(path string) (*Photo, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrPhotoNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open photo: %w", err)
	}
	defer func() { _ = f.Close() }()

	if info, err := f.Stat(); err == nil && info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupportedPhoto, path)
	}

	_, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedPhoto, path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind photo: %w", err)
	}
	orientation := orientationNormal
	if format == "jpeg" {
		orientation = readOrientation(f)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind photo: %w", err)
		}
	}
	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedPhoto, path, err)
	}
	return &Photo{Path: path, Format: format, Orientation: orientation, Image: img}, nil
}

// preparedInput is the file handed to the converter.
type preparedInput struct {
	Path    string
	Width   int
	Height  int
	cleanup func() error
}

// Cleanup removes the prepared copy, if one was written.
func (in preparedInput) Cleanup() error {
	if in.cleanup == nil {
		return nil
	}
	return in.cleanup()
}

func accepts(formats []string, format string) bool {
	if len(formats) == 0 {
		return true
	}
	for _, f := range formats {
		if f == format {
			return true
		}
	}
	return false
}

// prepareInput downscales photos larger than cfg.MaxDimension and re-encodes
// formats the converter does not accept or photos whose stored pixels need an
// EXIF rotation or flip. Otherwise the original file is used.
func prepareInput(p *Photo, cfg PreprocessConfig, jobID string) (preparedInput, error) {
	img := p.Image
	resized := false
	if limit := cfg.MaxDimension; limit > 0 && (p.Width() > limit || p.Height() > limit) {
		img = imaging.Fit(img, limit, limit, imaging.Lanczos)
		resized = true
	}
	accepted := accepts(cfg.AcceptFormats, p.Format)
	oriented := p.Orientation > orientationNormal
	if !resized && !oriented && accepted {
		return preparedInput{Path: p.Path, Width: p.Width(), Height: p.Height()}, nil
	}

	format, ext := imaging.PNG, ".png"
	if f, ok := encodable[p.Format]; ok && accepted {
		format, ext = f, "."+p.Format
	}

	tmp, err := os.CreateTemp("", "photo3d-"+jobID+"-*"+ext)
	if err != nil {
		return preparedInput{}, fmt.Errorf("create prepared photo: %w", err)
	}
	remove := func() error { return os.Remove(tmp.Name()) }
	if err := imaging.Encode(tmp, img, format, imaging.JPEGQuality(95)); err != nil {
		_ = tmp.Close()
		_ = remove()
		return preparedInput{}, fmt.Errorf("encode prepared photo: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = remove()
		return preparedInput{}, fmt.Errorf("write prepared photo: %w", err)
	}
	b := img.Bounds()
	return preparedInput{Path: tmp.Name(), Width: b.Dx(), Height: b.Dy(), cleanup: remove}, nil
}

// OutputPath names the converter output for photo: <dir>/<stem><suffix><ext>.
func OutputPath(photo string, cfg OutputConfig) string {
	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Dir(photo)
	}
	ext := filepath.Ext(photo)
	stem := strings.TrimSuffix(filepath.Base(photo), ext)
	if cfg.Extension != "" {
		ext = "." + strings.TrimPrefix(cfg.Extension, ".")
	}
	return filepath.Join(dir, stem+cfg.Suffix+ext)
}

// samePath reports whether a and b name the same file, either lexically or,
// when both exist, on disk.
func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && absA == absB {
		return true
	}
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	return errA == nil && errB == nil && os.SameFile(infoA, infoB)
}

// photoExtensions are the file extensions treated as photos when scanning directories.
var photoExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
	".webp": true,
}

// HasPhotoExtension reports whether path looks like a photo by its extension.
func HasPhotoExtension(path string) bool {
	return photoExtensions[strings.ToLower(filepath.Ext(path))]
}
