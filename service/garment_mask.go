package service

import (
	"image"
	"image/color"
	"math"

	"github.com/TIANLI0/OverlayKit/config"
	"github.com/TIANLI0/OverlayKit/model"
	"gocv.io/x/gocv"
)

var maskClear = color.RGBA{R: 0, G: 0, B: 0, A: 0}

// MaskOptions 服装掩码细化参数
type MaskOptions struct {
	HeadMargin      int
	NeckRadiusRatio float64
	HandExclusion   bool
	HandRadiusRatio float64
	MorphKernel     int
}

// MaskOptionsFromConfig 从叠加配置构造掩码参数
func MaskOptionsFromConfig(cfg *config.OverlayConfig) MaskOptions {
	return MaskOptions{
		HeadMargin:      cfg.HeadMargin,
		NeckRadiusRatio: cfg.NeckRadiusRatio,
		HandExclusion:   cfg.HandExclusion,
		HandRadiusRatio: cfg.HandRadiusRatio,
		MorphKernel:     cfg.MorphKernel,
	}
}

// GarmentAsset 去背景后的服装颜色与掩码，归单次请求所有
type GarmentAsset struct {
	Color gocv.Mat // BGR
	Mask  gocv.Mat // 8UC1
}

// Close 释放服装资源
func (g *GarmentAsset) Close() {
	g.Color.Close()
	g.Mask.Close()
}

// GarmentMaskExtractor 在去背景 alpha 基础上逐步剔除头颈、皮肤和手部
type GarmentMaskExtractor struct {
	opts MaskOptions
	skin *SkinDetector
}

func NewGarmentMaskExtractor(opts MaskOptions, skin *SkinDetector) *GarmentMaskExtractor {
	if skin == nil {
		skin = NewSkinDetector()
	}
	return &GarmentMaskExtractor{opts: opts, skin: skin}
}

// Extract 返回细化后的服装掩码；landmarks 为 nil 时只做皮肤剔除
func (me *GarmentMaskExtractor) Extract(asset GarmentAsset, landmarks *model.PoseLandmarkSet) gocv.Mat {
	alpha := asset.Mask.Clone()
	width, height := alpha.Cols(), alpha.Rows()

	if landmarks != nil {
		me.excludeHead(&alpha, landmarks, width, height)
	}

	skinMask := me.skin.Estimate(asset.Color)
	defer skinMask.Close()

	notSkin := gocv.NewMat()
	defer notSkin.Close()
	gocv.BitwiseNot(skinMask, &notSkin)

	refined := gocv.NewMat()
	gocv.BitwiseAnd(alpha, notSkin, &refined)
	alpha.Close()

	if landmarks != nil && me.opts.HandExclusion {
		me.excludeHands(&refined, landmarks, width, height)
	}

	if me.opts.MorphKernel > 1 {
		optimized := morphologyOptimize(refined, me.opts.MorphKernel)
		refined.Close()
		refined = optimized
	}

	return refined
}

// excludeHead 清除肩线以上区域及肩部中点处的颈部圆
func (me *GarmentMaskExtractor) excludeHead(mask *gocv.Mat, lm *model.PoseLandmarkSet, width, height int) {
	ls := lm.Get(model.LeftShoulder).Pixel(width, height)
	rs := lm.Get(model.RightShoulder).Pixel(width, height)

	shoulderY := int(math.Min(ls.Y, rs.Y))
	cut := min(shoulderY-me.opts.HeadMargin, height)
	if cut > 0 {
		gocv.Rectangle(mask, image.Rect(0, 0, width, cut), maskClear, -1)
	}

	neck := image.Pt(int((ls.X+rs.X)/2), shoulderY)
	radius := int(math.Abs(ls.X-rs.X) * me.opts.NeckRadiusRatio)
	if radius > 0 {
		gocv.Circle(mask, neck, radius, maskClear, -1)
	}
}

// excludeHands 清除手腕处的圆形区域
func (me *GarmentMaskExtractor) excludeHands(mask *gocv.Mat, lm *model.PoseLandmarkSet, width, height int) {
	radius := int(float64(width) * me.opts.HandRadiusRatio)
	if radius <= 0 {
		return
	}
	for _, id := range []model.LandmarkID{model.LeftWrist, model.RightWrist} {
		p := lm.Get(id).Pixel(width, height)
		gocv.Circle(mask, image.Pt(int(p.X), int(p.Y)), radius, maskClear, -1)
	}
}

// morphologyOptimize 开运算去噪点后闭运算填小孔
func morphologyOptimize(mask gocv.Mat, kernelSize int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: kernelSize, Y: kernelSize})
	defer kernel.Close()

	opened := gocv.NewMat()
	gocv.MorphologyEx(mask, &opened, gocv.MorphOpen, kernel)

	closed := gocv.NewMat()
	gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)
	opened.Close()

	return closed
}
