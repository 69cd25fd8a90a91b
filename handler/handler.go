package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/photo3d/photo3d/handler/backend"
	"github.com/photo3d/photo3d/handler/trace"
)

// ImageHandler turns the photo it was constructed with into a 3D image.
type ImageHandler interface {
	Make3DImage(ctx context.Context) error
}

// Factory constructs an ImageHandler for a photo path.
type Factory func(photo string) (ImageHandler, error)

// Handler is the default ImageHandler. It loads and prepares the photo and
// hands it to a converter backend.
type Handler struct {
	photo   string
	cfg     Config
	backend backend.Backend
	trace   *trace.Trace
}

// New creates a Handler for photo. The photo is not read until Make3DImage.
// tr may be nil.
func New(photo string, cfg Config, b backend.Backend, tr *trace.Trace) (*Handler, error) {
	if photo == "" {
		return nil, ErrNoPhoto
	}
	if b == nil {
		return nil, fmt.Errorf("handler for %s: no backend", photo)
	}
	return &Handler{photo: photo, cfg: cfg, backend: b, trace: tr}, nil
}

// NewFactory returns a Factory whose handlers share cfg, b and tr.
func NewFactory(cfg Config, b backend.Backend, tr *trace.Trace) Factory {
	return func(photo string) (ImageHandler, error) {
		return New(photo, cfg, b, tr)
	}
}

// Photo returns the path the handler was constructed with.
func (h *Handler) Photo() string { return h.photo }

// Make3DImage runs one conversion of the handler's photo.
func (h *Handler) Make3DImage(ctx context.Context) (err error) {
	jobID := uuid.NewString()
	started := time.Now()
	log := logrus.WithFields(logrus.Fields{"photo": h.photo, "job": jobID, "backend": h.backend.Name()})

	rec := trace.Record{JobID: jobID, Photo: h.photo, Backend: h.backend.Name(), Started: started}
	defer func() {
		rec.Duration = time.Since(started)
		if err != nil {
			rec.Err = err.Error()
		}
		h.trace.Record(rec)
	}()

	output := OutputPath(h.photo, h.cfg.Output)
	if samePath(output, h.photo) {
		return fmt.Errorf("%w: %s", ErrOutputIsPhoto, output)
	}

	photo, err := LoadPhoto(h.photo)
	if err != nil {
		return err
	}
	log.Infof("loaded %s photo %dx%d", photo.Format, photo.Width(), photo.Height())

	input, err := prepareInput(photo, h.cfg.Preprocess, jobID)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, input.Cleanup())
	}()
	if input.Path != photo.Path {
		log.Debugf("prepared %dx%d input at %s", input.Width, input.Height, input.Path)
	}

	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(h.cfg.Timeout))
		defer cancel()
	}

	job := backend.Job{
		ID:     jobID,
		Photo:  h.photo,
		Input:  input.Path,
		Output: output,
		Width:  input.Width,
		Height: input.Height,
	}
	res, err := h.backend.Convert(ctx, job)
	if err != nil {
		return fmt.Errorf("convert %s: %w", h.photo, err)
	}
	rec.Output, rec.Bytes = res.Output, res.Bytes

	log.Infof("3D image written to %s (%s) in %s",
		res.Output, units.HumanSize(float64(res.Bytes)), time.Since(started).Round(time.Millisecond))
	return nil
}
