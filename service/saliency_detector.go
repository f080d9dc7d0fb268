package service

import (
	"image"

	"gocv.io/x/gocv"
)

// GrabCut 掩码取值
const (
	gcBackground         = 0
	gcForeground         = 1
	gcProbableBackground = 2
	gcProbableForeground = 3
)

// SaliencyDetector 基于梯度的显著性检测，用于给 GrabCut 提供初始掩码
type SaliencyDetector struct {
	borderRatio float64
}

func NewSaliencyDetector() *SaliencyDetector {
	return &SaliencyDetector{borderRatio: 0.03}
}

// Detect 计算二值显著性图（Otsu 阈值）
func (sd *SaliencyDetector) Detect(img gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	gradX := gocv.NewMat()
	gradY := gocv.NewMat()
	defer gradX.Close()
	defer gradY.Close()

	gocv.Sobel(gray, &gradX, gocv.MatTypeCV16S, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(gray, &gradY, gocv.MatTypeCV16S, 0, 1, 3, 1, 0, gocv.BorderDefault)

	absGradX := gocv.NewMat()
	absGradY := gocv.NewMat()
	defer absGradX.Close()
	defer absGradY.Close()

	gocv.ConvertScaleAbs(gradX, &absGradX, 1, 0)
	gocv.ConvertScaleAbs(gradY, &absGradY, 1, 0)

	gradient := gocv.NewMat()
	defer gradient.Close()
	gocv.AddWeighted(absGradX, 0.5, absGradY, 0.5, 0, &gradient)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gradient, &blurred, image.Point{X: 21, Y: 21}, 0, 0, gocv.BorderDefault)

	saliency := gocv.NewMat()
	gocv.Threshold(blurred, &saliency, 0, 255, gocv.ThresholdOtsu)

	return saliency
}

// SeedMask 生成 GrabCut 初始掩码：四周边框为背景，膨胀后的显著区域为可能前景，其余为可能背景
func (sd *SaliencyDetector) SeedMask(saliency gocv.Mat) (gocv.Mat, error) {
	width, height := saliency.Cols(), saliency.Rows()

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: 11, Y: 11})
	defer kernel.Close()

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(saliency, &dilated, kernel)
	salient := dilated.ToBytes()

	border := int(float64(width) * sd.borderRatio)
	seed := make([]byte, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			switch {
			case x < border || x >= width-border || y < border || y >= height-border:
				seed[i] = gcBackground
			case salient[i] > 128:
				seed[i] = gcProbableForeground
			default:
				seed[i] = gcProbableBackground
			}
		}
	}

	return gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8U, seed)
}

// foregroundFromGrabCut 将 GrabCut 掩码中的前景与可能前景转换为 255
func foregroundFromGrabCut(mask gocv.Mat) (gocv.Mat, error) {
	data := mask.ToBytes()
	out := make([]byte, len(data))
	for i, v := range data {
		if v == gcForeground || v == gcProbableForeground {
			out[i] = 255
		}
	}
	return gocv.NewMatFromBytes(mask.Rows(), mask.Cols(), gocv.MatTypeCV8U, out)
}
