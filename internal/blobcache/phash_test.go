package blobcache

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradientImage(w, h int, shift uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x*255/w + int(shift)) % 256)
			img.Set(x, y, color.RGBA{R: v, G: v / 2, B: uint8(y * 255 / h), A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPerceptualHashDeterministic(t *testing.T) {
	data := encodePNG(t, gradientImage(100, 150, 0))
	h1, err := PerceptualHash(bytes.NewReader(data))
	require.NoError(t, err)
	h2, err := PerceptualHash(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestPerceptualHashSurvivesRescale(t *testing.T) {
	small := encodePNG(t, gradientImage(80, 120, 0))
	large := encodePNG(t, gradientImage(400, 600, 0))

	h1, err := PerceptualHash(bytes.NewReader(small))
	require.NoError(t, err)
	h2, err := PerceptualHash(bytes.NewReader(large))
	require.NoError(t, err)

	assert.True(t, IsNearDuplicate(h1, h2),
		"same artwork at different sizes should hash within the near-duplicate threshold, similarity=%f", Similarity(h1, h2))
}

func TestPerceptualHashDistinguishesContent(t *testing.T) {
	a := encodePNG(t, gradientImage(100, 100, 0))
	b := encodePNG(t, gradientImage(100, 100, 128))

	h1, err := PerceptualHash(bytes.NewReader(a))
	require.NoError(t, err)
	h2, err := PerceptualHash(bytes.NewReader(b))
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestPerceptualHashRejectsGarbage(t *testing.T) {
	_, err := PerceptualHash(bytes.NewReader([]byte("not an image")))
	assert.Error(t, err)
}

func TestSimilarityBounds(t *testing.T) {
	assert.Equal(t, 1.0, Similarity(0x1234, 0x1234))
	assert.Equal(t, 0.0, Similarity(0, -1))

	// One differing bit out of 64.
	assert.InDelta(t, 63.0/64.0, Similarity(0, 1), 1e-9)
}

func TestMedianEvenOdd(t *testing.T) {
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 2, 3}))
}
