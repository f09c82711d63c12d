package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podushkina/uploadqueue/internal/task"
)

type progressLog struct {
	mu   sync.Mutex
	seen []int
}

func (l *progressLog) record(p int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, p)
}

func (l *progressLog) values() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.seen...)
}

func TestHTTPAdapter_Upload(t *testing.T) {
	content := bytes.Repeat([]byte("vault"), 20000)

	var gotMeta task.Metadata
	var gotFile []byte
	var gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, DefaultUploadPath, r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("meta_data")), &gotMeta))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		gotName = hdr.Filename
		gotFile, _ = io.ReadAll(f)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"doc-1","message":"created"}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, "")
	log := &progressLog{}
	meta := task.Metadata{FolderID: "folder-7", NewFolderName: "reports"}

	res, err := a.Transfer(context.Background(), NewBytesPayload("report.txt", content), meta, log.record)
	require.NoError(t, err)

	assert.Equal(t, meta, gotMeta)
	assert.Equal(t, "report.txt", gotName)
	assert.Equal(t, content, gotFile)
	assert.JSONEq(t, `{"id":"doc-1","message":"created"}`, string(res.(json.RawMessage)))

	seen := log.values()
	require.NotEmpty(t, seen)
	assert.Equal(t, 100, seen[len(seen)-1])
	assert.IsNonDecreasing(t, seen)
}

func TestHTTPAdapter_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"unsupported file type"}`))
	}))
	defer srv.Close()

	a := NewHTTPAdapter(srv.URL, "/upload")
	_, err := a.Transfer(context.Background(), NewBytesPayload("x.bin", []byte{1, 2, 3}), task.Metadata{}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "unsupported file type")
	assert.NotErrorIs(t, err, ErrAborted)
}

func TestHTTPAdapter_Cancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		close(started)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	a := NewHTTPAdapter(srv.URL, "")
	_, err := a.Transfer(ctx, NewBytesPayload("a.txt", []byte("hello")), task.Metadata{}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "nope", errorMessage([]byte(`{"message":"nope"}`)))
	assert.Equal(t, "bad", errorMessage([]byte(`{"error":"bad"}`)))
	assert.Equal(t, "plain text", errorMessage([]byte(" plain text \n")))
	assert.Len(t, errorMessage(bytes.Repeat([]byte("x"), 500)), 200)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, percent(0, 10))
	assert.Equal(t, 50, percent(5, 10))
	assert.Equal(t, 33, percent(1, 3))
	assert.Equal(t, 67, percent(2, 3))
	assert.Equal(t, 100, percent(10, 10))
	assert.Equal(t, 100, percent(20, 10))
	assert.Equal(t, 100, percent(0, 0))
}

func TestCounter_ReportsOnlyChanges(t *testing.T) {
	log := &progressLog{}
	c := newCounter(1000, log.record)

	for i := 0; i < 1000; i++ {
		c.add(1)
	}

	seen := log.values()
	assert.Len(t, seen, 100)
	assert.Equal(t, 1, seen[0])
	assert.Equal(t, 100, seen[99])
}
