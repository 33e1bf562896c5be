package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/juju/errors"

	"github.com/warriorguo/stemflow/services"
	"github.com/warriorguo/stemflow/types"
)

var (
	_ Model = &HTTPModel{}
)

// HTTPModel evaluates the model on an inference server which streams
// newline delimited JSON messages back.
type HTTPModel struct {
	client *services.Client
}

func NewHTTPModel(config *types.ServiceConfig) (*HTTPModel, error) {
	if config == nil || config.BaseURL == "" {
		return nil, errors.NotValidf("empty note model url")
	}
	return &HTTPModel{client: services.NewClient(config)}, nil
}

type evaluateRequest struct {
	Audio      []float32 `json:"audio"`
	SampleRate int       `json:"sampleRate"`
}

// message is one streamed line, either a batch, a progress report or an error.
type message struct {
	Batch
	Progress *float64 `json:"progress,omitempty"`
	Error    string   `json:"error,omitempty"`
}

func (m *HTTPModel) EvaluateModel(ctx context.Context, audio []float32, onFrames func(Batch), onProgress func(float64)) error {
	b, err := json.Marshal(&evaluateRequest{Audio: audio, SampleRate: SampleRate})
	if err != nil {
		return errors.Annotate(err, "marshal request")
	}
	req, err := m.client.NewRequest(ctx, http.MethodPost, "/v1/evaluate", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		msg := &message{}
		err := dec.Decode(msg)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Annotate(err, "decode model stream")
		}
		if msg.Error != "" {
			return errors.Errorf("model failed: %s", msg.Error)
		}
		if len(msg.Frames) > 0 {
			onFrames(msg.Batch)
		}
		if msg.Progress != nil && onProgress != nil {
			onProgress(*msg.Progress)
		}
	}
}
