package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"
)

func TestSkinDetectorEstimate(t *testing.T) {
	sd := NewSkinDetector()

	skin := sd.Estimate(solid(t, 20, 10, skinBGR))
	defer skin.Close()
	assert.Equal(t, 20, skin.Cols())
	assert.Equal(t, 10, skin.Rows())
	assert.Equal(t, 200, gocv.CountNonZero(skin))

	notSkin := sd.Estimate(solid(t, 20, 10, blueBGR))
	defer notSkin.Close()
	assert.Equal(t, 0, gocv.CountNonZero(notSkin))
}

func TestSkinDetectorAcceptsBGRA(t *testing.T) {
	bgra := gocv.NewMat()
	defer bgra.Close()
	gocv.CvtColor(solid(t, 8, 8, skinBGR), &bgra, gocv.ColorBGRToBGRA)

	skin := NewSkinDetector().Estimate(bgra)
	defer skin.Close()
	assert.Equal(t, gocv.MatTypeCV8U, skin.Type())
	assert.Equal(t, 64, gocv.CountNonZero(skin))
}

func TestSkinDetectorEmptyInput(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()

	skin := NewSkinDetector().Estimate(empty)
	defer skin.Close()
	assert.True(t, skin.Empty())
}
