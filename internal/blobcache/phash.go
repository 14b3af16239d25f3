package blobcache

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"math/bits"
	"sort"

	"github.com/metarr/metarr/internal/errkind"
)

const (
	phashInputSize = 32
	phashBlockSize = 8
)

// PerceptualHash computes a 64-bit DCT hash of an image. The image is scaled
// to 32x32 grayscale, transformed, and the low-frequency 8x8 block (minus the
// DC term) is thresholded against its median.
func PerceptualHash(r io.Reader) (int64, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return 0, errkind.Wrap(errkind.KindInputInvalid, "decode image", err)
	}
	return hashImage(img), nil
}

func hashImage(img image.Image) int64 {
	gray := scaleGray(img, phashInputSize)
	freq := dct2d(gray)

	// Low-frequency block, skipping the DC coefficient at [0][0].
	coeffs := make([]float64, 0, phashBlockSize*phashBlockSize-1)
	for y := 0; y < phashBlockSize; y++ {
		for x := 0; x < phashBlockSize; x++ {
			if x == 0 && y == 0 {
				continue
			}
			coeffs = append(coeffs, freq[y][x])
		}
	}
	med := median(coeffs)

	var hash uint64
	bit := 0
	for y := 0; y < phashBlockSize; y++ {
		for x := 0; x < phashBlockSize; x++ {
			if x == 0 && y == 0 {
				bit++
				continue
			}
			if freq[y][x] > med {
				hash |= 1 << uint(bit)
			}
			bit++
		}
	}
	return int64(hash)
}

// Similarity returns the fraction of matching bits between two hashes,
// in [0, 1]. Candidates at or above 0.9 are treated as near-duplicates.
func Similarity(a, b int64) float64 {
	matching := 64 - bits.OnesCount64(uint64(a)^uint64(b))
	return float64(matching) / 64.0
}

// IsNearDuplicate reports whether two hashes are close enough that the
// images are considered the same artwork.
func IsNearDuplicate(a, b int64) bool {
	return Similarity(a, b) >= 0.9
}

// scaleGray downsamples to size x size luminance values with box averaging.
func scaleGray(img image.Image, size int) [][]float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([][]float64, size)
	for y := range out {
		out[y] = make([]float64, size)
	}
	for oy := 0; oy < size; oy++ {
		y0 := bounds.Min.Y + oy*h/size
		y1 := bounds.Min.Y + (oy+1)*h/size
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for ox := 0; ox < size; ox++ {
			x0 := bounds.Min.X + ox*w/size
			x1 := bounds.Min.X + (ox+1)*w/size
			if x1 <= x0 {
				x1 = x0 + 1
			}
			var sum float64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, b, _ := img.At(x, y).RGBA()
					sum += 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
				}
			}
			out[oy][ox] = sum / float64((y1-y0)*(x1-x0))
		}
	}
	return out
}

// dct2d applies the type-II DCT to each row, then each column.
func dct2d(in [][]float64) [][]float64 {
	n := len(in)
	tmp := make([][]float64, n)
	for y := 0; y < n; y++ {
		tmp[y] = dct1d(in[y])
	}
	out := make([][]float64, n)
	col := make([]float64, n)
	for y := range out {
		out[y] = make([]float64, n)
	}
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			col[y] = tmp[y][x]
		}
		res := dct1d(col)
		for y := 0; y < n; y++ {
			out[y][x] = res[y]
		}
	}
	return out
}

func dct1d(in []float64) []float64 {
	n := len(in)
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += in[i] * math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*float64(n)))
		}
		scale := math.Sqrt(2.0 / float64(n))
		if k == 0 {
			scale = math.Sqrt(1.0 / float64(n))
		}
		out[k] = sum * scale
	}
	return out
}

func median(vals []float64) float64 {
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
