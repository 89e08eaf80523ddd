package camera

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/bpvoice/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSource(t *testing.T) {
	paths := testutil.WriteFrames(t,
		testutil.BlankFrame(testutil.ImageSize{Width: 10, Height: 10}, color.Black),
		testutil.BlankFrame(testutil.ImageSize{Width: 20, Height: 10}, color.White),
	)
	dir := filepath.Dir(paths[0])

	s := NewDirSource(dir)
	ctx := context.Background()

	_, err := s.Frame(ctx)
	assert.ErrorIs(t, err, ErrNoStream)

	require.NoError(t, s.Start(ctx, DefaultConstraints()))
	assert.Equal(t, 2, s.Len())

	widths := []int{}
	for range 3 {
		img, err := s.Frame(ctx)
		require.NoError(t, err)
		widths = append(widths, img.Bounds().Dx())
	}
	assert.Equal(t, []int{10, 20, 10}, widths)

	require.NoError(t, s.Stop())
	_, err = s.Frame(ctx)
	assert.ErrorIs(t, err, ErrNoStream)
}

func TestDirSource_AcquisitionErrors(t *testing.T) {
	err := NewDirSource(t.TempDir()).Start(context.Background(), DefaultConstraints())
	var ae *AcquisitionError
	require.True(t, errors.As(err, &ae))
	assert.Contains(t, err.Error(), "no frames found")

	err = NewDirSource("/definitely/not/here").Start(context.Background(), DefaultConstraints())
	require.True(t, errors.As(err, &ae))
}

func TestPushSource(t *testing.T) {
	s := NewPushSource()
	ctx := context.Background()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	assert.False(t, s.Push(img))
	_, err := s.Frame(ctx)
	assert.ErrorIs(t, err, ErrNoStream)

	require.NoError(t, s.Start(ctx, DefaultConstraints()))
	assert.Equal(t, 1280, s.Constraints().Width)
	_, err = s.Frame(ctx)
	assert.ErrorIs(t, err, ErrNoFrame)

	assert.True(t, s.Push(img))
	got, err := s.Frame(ctx)
	require.NoError(t, err)
	assert.Same(t, img, got)

	require.NoError(t, s.Stop())
	_, err = s.Frame(ctx)
	assert.ErrorIs(t, err, ErrNoStream)
}

func TestDefaultConstraints(t *testing.T) {
	c := DefaultConstraints()
	assert.Equal(t, FacingEnvironment, c.FacingMode)
	assert.Equal(t, 720, c.Height)
}
