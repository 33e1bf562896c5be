package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warriorguo/stemflow/types"
)

type testStruct struct {
	Name   string
	Age    int
	IsMale bool
}

func TestData(t *testing.T) {
	data := &types.Data{}

	data.Set("teststruct1", testStruct{"hello", 4, false})

	hello := &testStruct{}
	assert.Nil(t, data.GetStruct("teststruct1", hello))
	assert.Equal(t, "hello", hello.Name)
	assert.Equal(t, 4, hello.Age)
	assert.Equal(t, false, hello.IsMale)

	data.Set("bpm", "120.5")
	bpm, exists := data.GetFloat64("bpm")
	assert.True(t, exists)
	assert.Equal(t, 120.5, bpm)

	_, exists = data.Get("s0")
	assert.False(t, exists)
	assert.NotNil(t, data.GetStruct("s0", hello))
}

func TestDataPath(t *testing.T) {
	data := types.Data{"progress": map[string]any{"stems": "pending"}}

	assert.Nil(t, data.SetPath("progress.stems", "completed"))
	assert.Nil(t, data.SetPath("stems.vocals", "/tmp/vocals.wav"))

	v, exists := data.GetPath("progress.stems")
	assert.True(t, exists)
	assert.Equal(t, "completed", v)

	stems, exists := data.GetStringMap("stems")
	assert.True(t, exists)
	assert.Equal(t, map[string]string{"vocals": "/tmp/vocals.wav"}, stems)

	data.Set("status", "processing")
	assert.NotNil(t, data.SetPath("status.inner", 1))
	assert.NotNil(t, data.SetPath("a..b", 1))

	_, exists = data.GetPath("progress.audio-analysis")
	assert.False(t, exists)
}
