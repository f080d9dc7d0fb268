package service

import (
	"context"
	"fmt"
	"image"

	"github.com/TIANLI0/OverlayKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var _ BackgroundRemover = (*GrabCutRemover)(nil)

// GrabCutRemover 不依赖模型的去背景实现，适合纯色背景的服装棚拍图
type GrabCutRemover struct {
	iterations int
	maxSize    int
	analyzer   *ComplexityAnalyzer
	saliency   *SaliencyDetector
}

func NewGrabCutRemover(iterations, maxSize int) *GrabCutRemover {
	return &GrabCutRemover{
		iterations: max(1, iterations),
		maxSize:    maxSize,
		analyzer:   NewComplexityAnalyzer(),
		saliency:   NewSaliencyDetector(),
	}
}

// Remove 返回 PNG 编码的 BGRA 图像，前景 alpha 为 255
func (r *GrabCutRemover) Remove(ctx context.Context, data []byte) ([]byte, error) {
	img, err := decodeBGR(data)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	width, height := img.Cols(), img.Rows()

	scaledImg, scale := smartResize(img, r.maxSize)
	defer scaledImg.Close()
	scaledWidth, scaledHeight := scaledImg.Cols(), scaledImg.Rows()

	scene := r.analyzer.Analyze(scaledImg)
	utils.Logger.Debug("garment scene analyzed",
		zap.String("level", string(scene.Level)),
		zap.Float64("edge_density", scene.EdgeDensity),
		zap.Float64("color_variance", scene.ColorVariance))

	var initRect image.Rectangle
	var mask gocv.Mat
	if scene.Level == SceneSimple {
		border := max(1, int(float64(scaledWidth)*0.05))
		initRect = image.Rect(border, border, scaledWidth-border, scaledHeight-border)
		mask = gocv.NewMat()
	} else {
		saliencyMap := r.saliency.Detect(scaledImg)
		mask, err = r.saliency.SeedMask(saliencyMap)
		saliencyMap.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to seed grabcut mask: %w", err)
		}
	}
	defer mask.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bgdModel := gocv.NewMat()
	defer bgdModel.Close()
	fgdModel := gocv.NewMat()
	defer fgdModel.Close()

	iterations := scene.GrabCutIterations(r.iterations)
	if mask.Empty() {
		gocv.GrabCut(scaledImg, &mask, initRect, &bgdModel, &fgdModel, iterations, gocv.GCInitWithRect)
	} else {
		gocv.GrabCut(scaledImg, &mask, image.Rectangle{}, &bgdModel, &fgdModel, iterations, gocv.GCInitWithMask)
	}
	if scene.Level != SceneSimple {
		gocv.GrabCut(scaledImg, &mask, image.Rectangle{}, &bgdModel, &fgdModel, 2, gocv.GCInitWithMask)
	}

	fgMask, err := foregroundFromGrabCut(mask)
	if err != nil {
		return nil, err
	}
	defer fgMask.Close()

	kernelSize := 3
	if scene.Level == SceneComplex {
		kernelSize = 5
	}
	alpha := morphologyOptimize(fgMask, kernelSize)
	defer alpha.Close()

	// 还原到原始尺寸
	if scale != 1.0 {
		resized := gocv.NewMat()
		gocv.Resize(alpha, &resized, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationLinear)
		gocv.Threshold(resized, &alpha, 127, 255, gocv.ThresholdBinary)
		resized.Close()
	}

	if gocv.CountNonZero(alpha) == 0 {
		return nil, fmt.Errorf("grabcut found no foreground")
	}

	planes := gocv.Split(img)
	defer func() {
		for i := range planes {
			planes[i].Close()
		}
	}()

	bgra := gocv.NewMat()
	defer bgra.Close()
	gocv.Merge([]gocv.Mat{planes[0], planes[1], planes[2], alpha}, &bgra)

	return encodeImage(".png", bgra)
}

func (r *GrabCutRemover) Close() error {
	return nil
}

// smartResize 等比缩小到最长边不超过 maxSize
func smartResize(img gocv.Mat, maxSize int) (gocv.Mat, float64) {
	width := img.Cols()
	height := img.Rows()
	maxDim := max(width, height)
	if maxSize <= 0 || maxDim <= maxSize {
		return img.Clone(), 1.0
	}

	scale := float64(maxSize) / float64(maxDim)
	newWidth := max(1, int(float64(width)*scale))
	newHeight := max(1, int(float64(height)*scale))

	resized := gocv.NewMat()
	gocv.Resize(img, &resized, image.Point{X: newWidth, Y: newHeight}, 0, 0, gocv.InterpolationArea)

	return resized, scale
}
