// Package remote optimizes images through the reSmush.it web API instead of
// local compressors. Each file is uploaded once; the result replaces the
// original only when it is smaller.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/logging"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/tools"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

// DefaultEndpoint is the public reSmush.it endpoint.
const DefaultEndpoint = "http://api.resmush.it/ws.php"

// ToolName is reported as the tool for remotely optimized files.
const ToolName = "resmush.it"

// Defaults for the request parameters.
const (
	DefaultQuality = 92
	DefaultMaxSize = 5 * types.MiB
	DefaultTimeout = 120 * time.Second
)

// ErrInvalidQuality is returned by New for a quality outside 0-100.
var ErrInvalidQuality = errors.New("quality must be between 0 and 100")

// APIError is an error reported by the service in its JSON body.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// response is the JSON answer to an upload.
type response struct {
	Src       string  `json:"src"`
	Dest      string  `json:"dest"`
	SrcSize   int64   `json:"src_size"`
	DestSize  int64   `json:"dest_size"`
	Percent   float64 `json:"percent"`
	Error     int     `json:"error"`
	ErrorLong string  `json:"error_long"`
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the API URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithQuality sets the JPEG quality requested from the service.
func WithQuality(q int) Option {
	return func(c *Client) {
		c.quality = q
	}
}

// WithExif asks the service to keep EXIF metadata.
func WithExif(keep bool) Option {
	return func(c *Client) {
		c.exif = keep
	}
}

// WithMaxSize sets the largest file that is uploaded.
func WithMaxSize(n int64) Option {
	return func(c *Client) {
		c.maxSize = n
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// Client uploads images to the remote API. It satisfies the runner's
// Optimizer interface.
type Client struct {
	endpoint string
	quality  int
	exif     bool
	maxSize  int64
	http     *http.Client
}

// New returns a client with the default endpoint, quality, size limit and a
// 120 second timeout.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		endpoint: DefaultEndpoint,
		quality:  DefaultQuality,
		maxSize:  DefaultMaxSize,
		http:     &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.quality < 0 || c.quality > 100 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuality, c.quality)
	}
	if _, err := url.Parse(c.endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	return c, nil
}

// Optimize uploads path, downloads the result and replaces path when the
// result is smaller. Files above the size limit return a *types.SkipError.
func (c *Client) Optimize(ctx context.Context, path string, _ types.Format) (string, error) {
	log := logging.Get("remote")

	info, err := os.Stat(path)
	if err != nil {
		return ToolName, err
	}
	if c.maxSize > 0 && info.Size() > c.maxSize {
		log.Info("file too large for remote optimization", "file", path, "size", info.Size(), "max", c.maxSize)
		return ToolName, &types.SkipError{Reason: types.SkipTooLarge}
	}

	res, err := c.upload(ctx, path)
	if err != nil {
		return ToolName, err
	}

	if res.Dest == "" {
		return ToolName, errors.New("remote response has no result URL")
	}
	if res.DestSize > 0 && res.DestSize >= info.Size() {
		log.Debug("remote result not smaller", "file", path, "src", info.Size(), "dest", res.DestSize)
		return ToolName, nil
	}

	if err := c.download(ctx, res.Dest, path, info); err != nil {
		return ToolName, err
	}

	log.Debug("remote optimized", "file", path, "percent", res.Percent)
	return ToolName, nil
}

func (c *Client) upload(ctx context.Context, path string) (*response, error) {
	body, contentType, err := multipartBody(path)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("qlty", strconv.Itoa(c.quality))
	q.Set("exif", strconv.FormatBool(c.exif))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", filepath.Base(path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("uploading %s: status %d", filepath.Base(path), resp.StatusCode)
	}

	var res response
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decoding remote response: %w", err)
	}
	if res.Error != 0 {
		return nil, &APIError{Code: res.Error, Message: res.ErrorLong}
	}
	return &res, nil
}

func multipartBody(path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	buf := new(bytes.Buffer)
	mp := multipart.NewWriter(buf)
	part, err := mp.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", path, err)
	}
	if err := mp.Close(); err != nil {
		return nil, "", err
	}
	return buf, mp.FormDataContentType(), nil
}

// download fetches dest into a sibling temp file and moves it over path if
// it is non-empty and smaller than the original.
func (c *Client) download(ctx context.Context, dest, path string, orig os.FileInfo) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dest, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("downloading result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading result: status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+tools.TempMarker+"*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("downloading result: %w", err)
	}

	if n == 0 || n >= orig.Size() {
		return nil
	}

	if err := os.Chmod(tmpName, orig.Mode().Perm()); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing original: %w", err)
	}
	return nil
}
