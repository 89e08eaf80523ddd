package ocr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDataURI(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G'}
	uri := EncodeDataURI("image/png", payload)

	tests := []struct {
		name      string
		in        string
		want      []byte
		mediaType string
		wantErr   bool
	}{
		{"data uri", uri, payload, "image/png", false},
		{"bare base64", "iVBORw==", []byte{0x89, 'P', 'N', 'G'}, "", false},
		{"with params", "data:image/jpeg;charset=binary;base64,iVBORw==", payload, "image/jpeg", false},
		{"empty", "", nil, "", true},
		{"no comma", "data:image/png;base64", nil, "", true},
		{"not base64", "data:text/plain,hello", nil, "", true},
		{"garbage", "data:image/png;base64,!!!", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, mt, err := DecodeDataURI(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.mediaType, mt)
		})
	}
}

func TestRecognize_WrapsErrors(t *testing.T) {
	boom := errors.New("engine crashed")
	failing := EngineFunc(func(context.Context, Input) (Result, error) {
		return Result{}, boom
	})

	_, err := Recognize(context.Background(), failing, Input{})
	var re *RecognitionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "func", re.Engine)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "recognition error in func")

	already := EngineFunc(func(context.Context, Input) (Result, error) {
		return Result{}, &RecognitionError{Engine: "inner", Err: boom}
	})
	_, err = Recognize(context.Background(), already, Input{})
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "inner", re.Engine)
}

func TestStatic(t *testing.T) {
	var progress []float64
	e := Static("120 80")
	res, err := Recognize(context.Background(), e, Input{Progress: func(p float64) { progress = append(progress, p) }})
	require.NoError(t, err)
	assert.Equal(t, "120 80", res.Text)
	assert.Equal(t, []float64{1}, progress)
	require.NoError(t, e.Close())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Recognize(ctx, e, Input{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMeanConfidence(t *testing.T) {
	assert.Zero(t, MeanConfidence(nil))
	assert.InDelta(t, 0.75, MeanConfidence([]Word{{Confidence: 0.5}, {Confidence: 1}}), 1e-9)
}
