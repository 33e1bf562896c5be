package stems

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/stemflow/types"
)

type fakeJobServer struct {
	t *testing.T

	mu       sync.Mutex
	uploaded []byte
	polls    int32
	deleted  []string
	// statuses are returned by consecutive polls, the last one repeats
	statuses []JobStatus
	failOnce bool
}

func (s *fakeJobServer) handler(baseURL *string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/upload", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(&uploadSlot{
			UploadURL:   *baseURL + "/blob/input",
			DownloadURL: *baseURL + "/blob/input?signed=1",
		})
	})
	mux.HandleFunc("/blob/input", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(s.t, http.MethodPut, r.Method)
		assert.Empty(s.t, r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.uploaded = b
		s.mu.Unlock()
	})
	mux.HandleFunc("/v1/job", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(s.t, "Bearer key", r.Header.Get("Authorization"))
		req := &addJobRequest{}
		assert.Nil(s.t, json.NewDecoder(r.Body).Decode(req))
		assert.Equal(s.t, "session-1", req.Name)
		assert.Equal(s.t, "stems-separation", req.Workflow)
		_ = json.NewEncoder(w).Encode(&addJobResponse{ID: "job-1"})
	})
	mux.HandleFunc("/v1/job/job-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			s.mu.Lock()
			s.deleted = append(s.deleted, "job-1")
			s.mu.Unlock()
			return
		}
		s.mu.Lock()
		if s.failOnce {
			s.failOnce = false
			s.mu.Unlock()
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		s.mu.Unlock()

		n := int(atomic.AddInt32(&s.polls, 1)) - 1
		if n >= len(s.statuses) {
			n = len(s.statuses) - 1
		}
		_ = json.NewEncoder(w).Encode(&Job{
			ID:     "job-1",
			Status: s.statuses[n],
			Result: map[string]string{
				"vocals": *baseURL + "/blob/vocals.wav",
				"drums":  *baseURL + "/blob/drums",
			},
		})
	})
	mux.HandleFunc("/blob/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("RIFF" + filepath.Base(r.URL.Path)))
	})
	return mux
}

func newTestClient(t *testing.T, s *fakeJobServer) *HTTPClient {
	var baseURL string
	server := httptest.NewServer(s.handler(&baseURL))
	t.Cleanup(server.Close)
	baseURL = server.URL

	c, err := NewHTTPClient(&types.StemsConfig{
		ServiceConfig: types.ServiceConfig{BaseURL: server.URL, APIKey: "key", Timeout: time.Second},
		JobType:       "stems-separation",
		PollInterval:  5 * time.Millisecond,
	})
	require.Nil(t, err)
	c.retryBackoff = 5 * time.Millisecond
	return c
}

func TestJobLifecycle(t *testing.T) {
	s := &fakeJobServer{t: t, statuses: []JobStatus{JobQueued, JobStarted, JobSucceeded}, failOnce: true}
	c := newTestClient(t, s)
	ctx := context.Background()

	input := filepath.Join(t.TempDir(), "input.wav")
	require.Nil(t, os.WriteFile(input, []byte("audio"), 0600))

	inputURL, err := c.Upload(ctx, input)
	require.Nil(t, err)
	assert.Contains(t, inputURL, "signed=1")
	assert.Equal(t, []byte("audio"), s.uploaded)

	jobID, err := c.AddJob(ctx, "session-1", "stems-separation", types.Data{ParamInputURL: inputURL})
	require.Nil(t, err)
	assert.Equal(t, "job-1", jobID)

	job, err := c.WaitForJobCompletion(ctx, jobID)
	require.Nil(t, err)
	assert.True(t, job.Succeeded())
	assert.Equal(t, int32(3), atomic.LoadInt32(&s.polls))

	dest := filepath.Join(t.TempDir(), "stems")
	paths, err := c.DownloadJobResults(ctx, job, dest)
	require.Nil(t, err)
	assert.Equal(t, map[string]string{
		"vocals": filepath.Join(dest, "vocals.wav"),
		"drums":  filepath.Join(dest, "drums.wav"),
	}, paths)
	b, err := os.ReadFile(paths["vocals"])
	assert.Nil(t, err)
	assert.Equal(t, "RIFFvocals.wav", string(b))

	assert.Nil(t, c.DeleteJob(ctx, jobID))
	assert.Equal(t, []string{"job-1"}, s.deleted)
}

func TestWaitForFailedJob(t *testing.T) {
	s := &fakeJobServer{t: t, statuses: []JobStatus{JobStarted, JobFailed}}
	c := newTestClient(t, s)

	job, err := c.WaitForJobCompletion(context.Background(), "job-1")
	require.Nil(t, err)
	assert.Equal(t, JobFailed, job.Status)
	assert.False(t, job.Succeeded())

	_, err = c.DownloadJobResults(context.Background(), job, t.TempDir())
	assert.NotNil(t, err)
}

func TestWaitCanceled(t *testing.T) {
	s := &fakeJobServer{t: t, statuses: []JobStatus{JobStarted}}
	c := newTestClient(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.WaitForJobCompletion(ctx, "job-1")
	assert.NotNil(t, err)
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "stemflow/inputs/abc/input.wav", objectName("/tmp/sessions/abc/input.wav"))
}

func TestJobStatus(t *testing.T) {
	assert.False(t, JobQueued.Terminal())
	assert.True(t, JobCancelled.Terminal())
	assert.False(t, (*Job)(nil).Succeeded())
}

func TestDownloadRejectsUnsafeStemNames(t *testing.T) {
	s := &fakeJobServer{t: t, statuses: []JobStatus{JobSucceeded}}
	c := newTestClient(t, s)

	root := t.TempDir()
	dest := filepath.Join(root, "session", "stems")
	for _, name := range []string{"../../escaped", "..", "a/b", `a\b`, ""} {
		job := &Job{ID: "job-1", Status: JobSucceeded, Result: map[string]string{
			"vocals": "http://127.0.0.1:1/vocals.wav",
			name:     "http://127.0.0.1:1/x.wav",
		}}
		_, err := c.DownloadJobResults(context.Background(), job, dest)
		assert.True(t, errors.Is(err, errors.NotValid), "%q: %v", name, err)
	}
	_, err := os.Stat(filepath.Join(root, "escaped.wav"))
	assert.True(t, os.IsNotExist(err))

	assert.True(t, ValidStemName("vocals"))
	assert.True(t, ValidStemName("other.1"))
}
