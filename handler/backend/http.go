package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// errorBodyLimit bounds how much of an error response is quoted.
const errorBodyLimit = 512

// HTTPConfig posts each job to a remote conversion service.
type HTTPConfig struct {
	URL       string `yaml:"url"`
	APIKeyEnv string `yaml:"api_key_env"` // env var holding a bearer token; empty disables auth
	MaxUpload string `yaml:"max_upload"`  // e.g. "20MB"; empty means unlimited
}

func (c HTTPConfig) validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("http backend: url must not be empty")
	}
	if _, err := c.maxUploadBytes(); err != nil {
		return err
	}
	return nil
}

func (c HTTPConfig) maxUploadBytes() (int64, error) {
	if c.MaxUpload == "" {
		return 0, nil
	}
	n, err := units.FromHumanSize(c.MaxUpload)
	if err != nil {
		return 0, fmt.Errorf("http backend: invalid max_upload %q: %w", c.MaxUpload, err)
	}
	return n, nil
}

// HTTP is a Backend that uploads the prepared photo to a conversion service
// and stores the response body as the output.
type HTTP struct {
	url        string
	apiKey     string
	maxUpload  int64
	httpClient *http.Client
}

// NewHTTP creates an http backend. The bearer token is read from the
// environment once, at construction.
func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	maxUpload, _ := cfg.maxUploadBytes()
	var apiKey string
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return &HTTP{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     apiKey,
		maxUpload:  maxUpload,
		httpClient: &http.Client{},
	}, nil
}

func (h *HTTP) Name() string { return TypeHTTP }

// Convert uploads job.Input and writes the service response to job.Output.
// Request lifetime is bounded by ctx.
func (h *HTTP) Convert(ctx context.Context, job Job) (Result, error) {
	info, err := os.Stat(job.Input)
	if err != nil {
		return Result{}, fmt.Errorf("stat input: %w", err)
	}
	if h.maxUpload > 0 && info.Size() > h.maxUpload {
		return Result{}, fmt.Errorf("%w: %s is %s, limit %s", ErrInputTooLarge,
			job.Input, units.HumanSize(float64(info.Size())), units.HumanSize(float64(h.maxUpload)))
	}

	body, contentType, err := multipartBody(job)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, body)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Request-ID", job.ID)
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	logrus.WithFields(logrus.Fields{"backend": TypeHTTP, "job": job.ID}).
		Debugf("uploading %s (%s) to %s", job.Input, units.HumanSize(float64(info.Size())), h.url)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("post %s: %w", h.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		// success, continue
	case http.StatusUnauthorized, http.StatusForbidden:
		return Result{}, fmt.Errorf("authentication rejected (HTTP %d). Check the token in the api_key_env variable. URL: %s", resp.StatusCode, h.url)
	case http.StatusNotFound:
		return Result{}, fmt.Errorf("conversion endpoint not found (HTTP 404). URL: %s", h.url)
	case http.StatusRequestEntityTooLarge:
		return Result{}, fmt.Errorf("%w: service refused %s (HTTP 413)", ErrInputTooLarge, job.Input)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return Result{}, fmt.Errorf("unexpected HTTP %d from %s: %s", resp.StatusCode, h.url, strings.TrimSpace(string(msg)))
	}

	n, err := writeAtomic(job.Output, resp.Body)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: job.Output, Bytes: n}, nil
}

// multipartBody encodes the job id and the input file as a multipart form.
func multipartBody(job Job) (io.Reader, string, error) {
	f, err := os.Open(job.Input)
	if err != nil {
		return nil, "", fmt.Errorf("open input: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("id", job.ID); err != nil {
		return nil, "", fmt.Errorf("encode form: %w", err)
	}
	part, err := mw.CreateFormFile("photo", filepath.Base(job.Photo))
	if err != nil {
		return nil, "", fmt.Errorf("encode form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("encode form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("encode form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

// writeAtomic streams r into a temp file next to path and renames it into place.
func writeAtomic(path string, r io.Reader) (n int64, err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".photo3d-*")
	if err != nil {
		return 0, fmt.Errorf("create temp output: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, os.Remove(tmp.Name()))
		}
	}()

	n, err = io.Copy(tmp, r)
	err = multierr.Append(err, tmp.Close())
	if err != nil {
		return 0, fmt.Errorf("write output %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("rename output %s: %w", path, err)
	}
	return n, nil
}
