package service

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestImageToMatChannelOrder(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 40, G: 50, B: 60, A: 0})

	bgr, err := imageToMat(img, false)
	require.NoError(t, err)
	defer bgr.Close()
	assert.Equal(t, gocv.MatTypeCV8UC3, bgr.Type())
	assert.Equal(t, []byte{30, 20, 10, 60, 50, 40}, bgr.ToBytes())

	bgra, err := imageToMat(img, true)
	require.NoError(t, err)
	defer bgra.Close()
	assert.Equal(t, gocv.MatTypeCV8UC4, bgra.Type())
	assert.Equal(t, []byte{30, 20, 10, 255, 60, 50, 40, 0}, bgra.ToBytes())
}

func TestDecodeBGRAFromGoPNG(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	img.SetNRGBA(1, 1, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	mat, err := decodeBGRA(buf.Bytes())
	require.NoError(t, err)
	defer mat.Close()

	assert.Equal(t, 4, mat.Cols())
	assert.Equal(t, 3, mat.Rows())
	data := mat.ToBytes()
	i := (1*4 + 1) * 4
	assert.Equal(t, []byte{0, 0, 255, 255}, data[i:i+4])
}

func TestDecodeRejectsGarbage(t *testing.T) {
	mat, err := decodeBGR(nil)
	assert.Error(t, err)
	assert.Equal(t, gocv.Mat{}, mat)

	mat, err = decodeBGR([]byte("garbage"))
	assert.Error(t, err)
	assert.Equal(t, gocv.Mat{}, mat)

	// 没有 alpha 的图像
	jpg, err := encodeImage(".jpg", solid(t, 8, 8, blueBGR))
	require.NoError(t, err)
	mat, err = decodeBGRA(jpg)
	assert.Error(t, err)
	assert.Equal(t, gocv.Mat{}, mat)
}

func TestEncodeForName(t *testing.T) {
	src := solid(t, 6, 4, blueBGR)

	jpg, err := encodeForName("result_a.JPEG", src)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, jpg[:2])

	pngData, err := encodeForName("result_a.png", src)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), pngData[:4])

	back, err := decodeBGR(pngData)
	require.NoError(t, err)
	defer back.Close()
	assert.Equal(t, src.ToBytes(), back.ToBytes())
}
