package pipelines

import (
	"sync"

	"github.com/warriorguo/stemflow/runtime"
)

/**
 * Registry builds each pipeline once per process. In dev mode every call
 * builds a fresh pipeline so edited node code is picked up.
 */
type Registry struct {
	deps    *Deps
	devMode bool

	audioOnce sync.Once
	audio     *runtime.Pipeline
	audioErr  error

	midiOnce sync.Once
	midi     *runtime.Pipeline
	midiErr  error
}

func NewRegistry(deps *Deps, devMode bool) *Registry {
	return &Registry{deps: deps, devMode: devMode}
}

func (r *Registry) Audio() (*runtime.Pipeline, error) {
	if r.devMode {
		return NewAudioPipeline(r.deps)
	}
	r.audioOnce.Do(func() {
		r.audio, r.audioErr = NewAudioPipeline(r.deps)
	})
	return r.audio, r.audioErr
}

func (r *Registry) Midi() (*runtime.Pipeline, error) {
	if r.devMode {
		return NewMidiPipeline(r.deps)
	}
	r.midiOnce.Do(func() {
		r.midi, r.midiErr = NewMidiPipeline(r.deps)
	})
	return r.midi, r.midiErr
}
