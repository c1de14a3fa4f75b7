package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

// fakeAPI mimics reSmush.it: uploads answer with a result URL serving
// result.
type fakeAPI struct {
	*httptest.Server
	result   []byte
	apiError *response
	uploads  atomic.Int32
	query    atomic.Value
	field    atomic.Value
}

func newFakeAPI(t *testing.T, result []byte) *fakeAPI {
	t.Helper()
	api := &fakeAPI{result: result}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws.php", func(w http.ResponseWriter, r *http.Request) {
		api.uploads.Add(1)
		api.query.Store(r.URL.RawQuery)

		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, hdr, err := r.FormFile("files")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		api.field.Store(hdr.Filename)

		if api.apiError != nil {
			_ = json.NewEncoder(w).Encode(api.apiError)
			return
		}
		_ = json.NewEncoder(w).Encode(response{
			Src:      hdr.Filename,
			Dest:     api.URL + "/result/" + hdr.Filename,
			SrcSize:  int64(len(data)),
			DestSize: int64(len(api.result)),
			Percent:  types.Percent(int64(len(data)-len(api.result)), int64(len(data))),
		})
	})
	mux.HandleFunc("/result/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(api.result)
	})

	api.Server = httptest.NewServer(mux)
	t.Cleanup(api.Close)
	return api
}

func writeImage(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{7}, size), 0o640))
	return path
}

func TestOptimize_ReplacesWhenSmaller(t *testing.T) {
	api := newFakeAPI(t, bytes.Repeat([]byte{1}, 600))
	path := writeImage(t, 1000)

	c, err := New(WithEndpoint(api.URL+"/ws.php"), WithQuality(80), WithExif(true))
	require.NoError(t, err)

	tool, err := c.Optimize(context.Background(), path, types.FormatJPEG)
	require.NoError(t, err)
	assert.Equal(t, ToolName, tool)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, api.result, data)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	assert.Equal(t, "exif=true&qlty=80", api.query.Load())
	assert.Equal(t, "photo.jpg", api.field.Load())
	assert.Equal(t, int32(1), api.uploads.Load())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp file left behind")
}

func TestOptimize_KeepsOriginalWhenNotSmaller(t *testing.T) {
	api := newFakeAPI(t, bytes.Repeat([]byte{1}, 1200))
	path := writeImage(t, 1000)

	c, err := New(WithEndpoint(api.URL + "/ws.php"))
	require.NoError(t, err)

	_, err = c.Optimize(context.Background(), path, types.FormatJPEG)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{7}, 1000), data)
	assert.Equal(t, "exif=false&qlty=92", api.query.Load())
}

func TestOptimize_TooLarge(t *testing.T) {
	api := newFakeAPI(t, []byte{1})
	path := writeImage(t, 2048)

	c, err := New(WithEndpoint(api.URL+"/ws.php"), WithMaxSize(1024))
	require.NoError(t, err)

	_, err = c.Optimize(context.Background(), path, types.FormatJPEG)

	var skip *types.SkipError
	require.True(t, errors.As(err, &skip))
	assert.Equal(t, types.SkipTooLarge, skip.Reason)
	assert.Zero(t, api.uploads.Load(), "too large files are never uploaded")
}

func TestOptimize_APIError(t *testing.T) {
	api := newFakeAPI(t, nil)
	api.apiError = &response{Error: 403, ErrorLong: "file type not allowed"}
	path := writeImage(t, 100)

	c, err := New(WithEndpoint(api.URL + "/ws.php"))
	require.NoError(t, err)

	_, err = c.Optimize(context.Background(), path, types.FormatGIF)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 403, apiErr.Code)
	assert.Contains(t, err.Error(), "file type not allowed")
	assert.Equal(t, int32(1), api.uploads.Load(), "single attempt, no retry")
}

func TestOptimize_HTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	path := writeImage(t, 100)

	c, err := New(WithEndpoint(srv.URL))
	require.NoError(t, err)

	_, err = c.Optimize(context.Background(), path, types.FormatPNG)
	assert.ErrorContains(t, err, "status 502")
}

func TestOptimize_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	c, err := New(WithEndpoint(endpoint))
	require.NoError(t, err)

	_, err = c.Optimize(context.Background(), writeImage(t, 100), types.FormatPNG)
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(WithQuality(101))
	assert.ErrorIs(t, err, ErrInvalidQuality)

	_, err = New(WithQuality(-1))
	assert.ErrorIs(t, err, ErrInvalidQuality)

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, DefaultEndpoint, c.endpoint)
	assert.Equal(t, DefaultQuality, c.quality)
	assert.Equal(t, DefaultMaxSize, c.maxSize)
	assert.False(t, c.exif)
}
