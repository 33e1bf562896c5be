package analysis

import (
	"context"
	"net/http"

	"github.com/juju/errors"

	"github.com/warriorguo/stemflow/services"
	"github.com/warriorguo/stemflow/types"
)

const (
	// AlgorithmMultiFeature is the default tempo estimation algorithm.
	AlgorithmMultiFeature = "multifeature"
	AlgorithmDegara       = "degara"
)

/**
 * Engine is the music analysis collaborator. Samples are mono.
 */
type Engine interface {
	DetectBPM(ctx context.Context, samples []float32, algorithm string, sampleRate int, params types.Data) (float64, error)
	DetectKey(ctx context.Context, samples []float32, sampleRate int, params types.Data) (*types.KeyResult, error)
}

var (
	_ Engine = &HTTPClient{}
)

// HTTPClient calls an analysis engine served over HTTP.
type HTTPClient struct {
	client *services.Client
}

func NewHTTPClient(config *types.ServiceConfig) (*HTTPClient, error) {
	if config == nil || config.BaseURL == "" {
		return nil, errors.NotValidf("empty analysis engine url")
	}
	return &HTTPClient{client: services.NewClient(config)}, nil
}

type bpmRequest struct {
	Samples    []float32  `json:"samples"`
	Algorithm  string     `json:"algorithm"`
	SampleRate int        `json:"sampleRate"`
	Params     types.Data `json:"params,omitempty"`
}

type bpmResponse struct {
	BPM float64 `json:"bpm"`
}

type keyRequest struct {
	Samples    []float32  `json:"samples"`
	SampleRate int        `json:"sampleRate"`
	Params     types.Data `json:"params,omitempty"`
}

func (c *HTTPClient) DetectBPM(ctx context.Context, samples []float32, algorithm string, sampleRate int, params types.Data) (float64, error) {
	if len(samples) == 0 {
		return 0, errors.BadRequestf("no samples")
	}
	if algorithm == "" {
		algorithm = AlgorithmMultiFeature
	}

	resp := &bpmResponse{}
	err := c.client.DoJSON(ctx, http.MethodPost, "/v1/bpm", &bpmRequest{
		Samples:    samples,
		Algorithm:  algorithm,
		SampleRate: sampleRate,
		Params:     params,
	}, resp)
	if err != nil {
		return 0, errors.Annotate(err, "detect bpm")
	}
	if resp.BPM <= 0 {
		return 0, errors.NotValidf("bpm %v", resp.BPM)
	}
	return resp.BPM, nil
}

func (c *HTTPClient) DetectKey(ctx context.Context, samples []float32, sampleRate int, params types.Data) (*types.KeyResult, error) {
	if len(samples) == 0 {
		return nil, errors.BadRequestf("no samples")
	}

	resp := &types.KeyResult{}
	err := c.client.DoJSON(ctx, http.MethodPost, "/v1/key", &keyRequest{
		Samples:    samples,
		SampleRate: sampleRate,
		Params:     params,
	}, resp)
	if err != nil {
		return nil, errors.Annotate(err, "detect key")
	}
	if resp.Key == "" {
		return nil, errors.NotValidf("empty key")
	}
	return resp, nil
}
