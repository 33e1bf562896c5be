package pipelines

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/juju/errors"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/stemflow/services/notes"
	"github.com/warriorguo/stemflow/services/stems"
	"github.com/warriorguo/stemflow/session"
	"github.com/warriorguo/stemflow/store/mem"
	"github.com/warriorguo/stemflow/types"
)

func writeTestWAV(t *testing.T, path string, rate int, seconds float64) {
	require.Nil(t, os.MkdirAll(filepath.Dir(path), 0750))
	f, err := os.Create(path)
	require.Nil(t, err)
	defer f.Close()

	data := make([]int, int(float64(rate)*seconds))
	for i := range data {
		if i%100 < 50 {
			data[i] = 8000
		} else {
			data[i] = -8000
		}
	}
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	require.Nil(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.Nil(t, enc.Close())
}

func testWAVBytes(t *testing.T) []byte {
	path := filepath.Join(t.TempDir(), "upload.wav")
	writeTestWAV(t, path, 22050, 0.5)
	b, err := os.ReadFile(path)
	require.Nil(t, err)
	return b
}

type fakeAnalysis struct {
	bpm   float64
	key   types.KeyResult
	err   error
	delay time.Duration
}

func (f *fakeAnalysis) DetectBPM(ctx context.Context, samples []float32, algorithm string, sampleRate int, params types.Data) (float64, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return 0, f.err
	}
	return f.bpm, nil
}

func (f *fakeAnalysis) DetectKey(ctx context.Context, samples []float32, sampleRate int, params types.Data) (*types.KeyResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	key := f.key
	return &key, nil
}

type fakeStems struct {
	mu      sync.Mutex
	status  stems.JobStatus
	names   []string
	jobs    []string
	deleted []string
}

func (f *fakeStems) AddJob(ctx context.Context, sessionID, jobType string, params types.Data) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := params[stems.ParamInputURL]; !exists {
		return "", errors.BadRequestf("missing input url")
	}
	id := "job-" + sessionID
	f.jobs = append(f.jobs, id)
	return id, nil
}

func (f *fakeStems) WaitForJobCompletion(ctx context.Context, jobID string) (*stems.Job, error) {
	result := map[string]string{}
	for _, name := range f.names {
		result[name] = "https://stems.example/" + name + ".wav"
	}
	return &stems.Job{ID: jobID, Status: f.status, Result: result}, nil
}

func (f *fakeStems) DownloadJobResults(ctx context.Context, job *stems.Job, destDir string) (map[string]string, error) {
	if err := os.MkdirAll(destDir, 0750); err != nil {
		return nil, err
	}
	paths := map[string]string{}
	for name := range job.Result {
		p := filepath.Join(destDir, name+".wav")
		if err := os.WriteFile(p, []byte(name), 0640); err != nil {
			return nil, err
		}
		paths[name] = p
	}
	return paths, nil
}

func (f *fakeStems) DeleteJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, jobID)
	return nil
}

type fakeUploader struct{}

func (fakeUploader) Upload(ctx context.Context, localPath string) (string, error) {
	return "https://upload.example/" + filepath.Base(localPath), nil
}

// fakeModel emits one sustained note on pitch bin 39 (midi 60).
type fakeModel struct {
	err error
}

func (f *fakeModel) EvaluateModel(ctx context.Context, samples []float32, onFrames func(notes.Batch), onProgress func(float64)) error {
	if f.err != nil {
		return f.err
	}
	batch := notes.Batch{}
	for t := 0; t < 30; t++ {
		frame := make([]float32, notes.NumPitches)
		onset := make([]float32, notes.NumPitches)
		if t < 20 {
			frame[39] = 0.9
		}
		if t == 0 {
			onset[39] = 0.95
		}
		batch.Frames = append(batch.Frames, frame)
		batch.Onsets = append(batch.Onsets, onset)
	}
	onFrames(batch)
	onProgress(1)
	return nil
}

// failingCreate rejects every session creation.
type failingCreate struct {
	*session.Store
}

func (f *failingCreate) CreateSession(ctx context.Context, sess *types.Session) (*types.Session, error) {
	return nil, errors.New("store unavailable")
}

func newTestDeps(t *testing.T) (*Deps, *session.Store, *fakeStems) {
	sessions := session.NewStore(mem.NewMemStore())
	stemsService := &fakeStems{status: stems.JobSucceeded, names: []string{"vocals", "drums", "bass"}}
	return &Deps{
		Sessions:        sessions,
		Analysis:        &fakeAnalysis{bpm: 120.00004, key: types.KeyResult{Key: "A", Scale: "minor"}},
		Stems:           stemsService,
		Uploader:        fakeUploader{},
		Notes:           &fakeModel{},
		TempDir:         t.TempDir(),
		MidiDir:         t.TempDir(),
		PipelineOptions: []types.PipelineOption{types.DisableMetrics()},
	}, sessions, stemsService
}
