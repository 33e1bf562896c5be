package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warriorguo/stemflow/services"
	"github.com/warriorguo/stemflow/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewHTTPClient(&types.ServiceConfig{BaseURL: server.URL, APIKey: "secret", Timeout: time.Second})
	require.Nil(t, err)
	return c
}

func TestDetectBPM(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/bpm", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		req := &bpmRequest{}
		assert.Nil(t, json.NewDecoder(r.Body).Decode(req))
		assert.Equal(t, AlgorithmMultiFeature, req.Algorithm)
		assert.Equal(t, 44100, req.SampleRate)
		assert.Len(t, req.Samples, 3)

		_ = json.NewEncoder(w).Encode(&bpmResponse{BPM: 128.0001})
	})

	bpm, err := c.DetectBPM(context.Background(), []float32{0, 0.5, -0.5}, "", 44100, nil)
	assert.Nil(t, err)
	assert.Equal(t, 128.0001, bpm)

	_, err = c.DetectBPM(context.Background(), nil, "", 44100, nil)
	assert.True(t, errors.Is(err, errors.BadRequest))
}

func TestDetectKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/key", r.URL.Path)
		_ = json.NewEncoder(w).Encode(&types.KeyResult{Key: "F#", Scale: "minor"})
	})

	key, err := c.DetectKey(context.Background(), []float32{0.1}, 44100, types.Data{"profileType": "edma"})
	assert.Nil(t, err)
	assert.Equal(t, &types.KeyResult{Key: "F#", Scale: "minor"}, key)
}

func TestEngineFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine exploded", http.StatusInternalServerError)
	})

	_, err := c.DetectBPM(context.Background(), []float32{0.1}, AlgorithmDegara, 44100, nil)
	assert.True(t, services.IsStatus(err, http.StatusInternalServerError))
	assert.ErrorContains(t, err, "engine exploded")

	_, err = NewHTTPClient(&types.ServiceConfig{})
	assert.True(t, errors.Is(err, errors.NotValid))
}
