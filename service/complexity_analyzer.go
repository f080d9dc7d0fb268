package service

import (
	"gocv.io/x/gocv"
)

// SceneLevel 背景复杂度等级
type SceneLevel string

const (
	SceneSimple  SceneLevel = "simple"
	SceneMedium  SceneLevel = "medium"
	SceneComplex SceneLevel = "complex"
)

// ComplexityAnalyzer 负责分析服装照片背景的复杂度
type ComplexityAnalyzer struct{}

type ComplexityInfo struct {
	Level         SceneLevel
	EdgeDensity   float64
	ColorVariance float64
}

func NewComplexityAnalyzer() *ComplexityAnalyzer {
	return &ComplexityAnalyzer{}
}

// Analyze 纯色棚拍图判为 simple，可直接用矩形初始化 GrabCut
func (ca *ComplexityAnalyzer) Analyze(img gocv.Mat) ComplexityInfo {
	edgeDensity := ca.calculateEdgeDensity(img)
	colorVariance := ca.calculateColorVariance(img)

	level := SceneMedium
	if edgeDensity < 0.05 && colorVariance < 30 {
		level = SceneSimple
	} else if edgeDensity > 0.15 || colorVariance > 60 {
		level = SceneComplex
	}

	return ComplexityInfo{
		Level:         level,
		EdgeDensity:   edgeDensity,
		ColorVariance: colorVariance,
	}
}

// GrabCutIterations 按复杂度调整迭代次数
func (info ComplexityInfo) GrabCutIterations(base int) int {
	switch info.Level {
	case SceneSimple:
		return max(3, base-2)
	case SceneComplex:
		return base + 2
	default:
		return base
	}
}

// calculateEdgeDensity Canny 边缘像素占比
func (ca *ComplexityAnalyzer) calculateEdgeDensity(img gocv.Mat) float64 {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)

	return float64(gocv.CountNonZero(edges)) / float64(img.Rows()*img.Cols())
}

// calculateColorVariance Lab 三通道标准差的均值
func (ca *ComplexityAnalyzer) calculateColorVariance(img gocv.Mat) float64 {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(img, &lab, gocv.ColorBGRToLab)

	mean := gocv.NewMat()
	stddev := gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(lab, &mean, &stddev)

	variance := 0.0
	for i := 0; i < stddev.Rows(); i++ {
		variance += stddev.GetDoubleAt(i, 0)
	}
	return variance / float64(stddev.Rows())
}
