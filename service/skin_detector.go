package service

import (
	"gocv.io/x/gocv"
)

// SkinRange 某一色彩空间中的三通道阈值区间
type SkinRange struct {
	Lower gocv.Scalar
	Upper gocv.Scalar
}

// SkinDetector 双色彩空间（HSV 与 YCrCb）皮肤检测，两者取交集以降低误检
type SkinDetector struct {
	hsv   SkinRange
	ycrcb SkinRange
}

func NewSkinDetector() *SkinDetector {
	return &SkinDetector{
		// OpenCV 8 位 HSV，H 取值 0-180
		hsv: SkinRange{
			Lower: gocv.Scalar{Val1: 0, Val2: 20, Val3: 70, Val4: 0},
			Upper: gocv.Scalar{Val1: 25, Val2: 255, Val3: 255, Val4: 255},
		},
		ycrcb: SkinRange{
			Lower: gocv.Scalar{Val1: 0, Val2: 133, Val3: 77, Val4: 0},
			Upper: gocv.Scalar{Val1: 255, Val2: 173, Val3: 127, Val4: 255},
		},
	}
}

// Estimate 返回与输入同尺寸的 0/255 皮肤掩码，接受 BGR 或 BGRA
func (sd *SkinDetector) Estimate(img gocv.Mat) gocv.Mat {
	if img.Empty() {
		return gocv.NewMat()
	}

	bgr := img
	if img.Channels() == 4 {
		bgr = gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(img, &bgr, gocv.ColorBGRAToBGR)
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(bgr, &hsv, gocv.ColorBGRToHSV)

	ycrcb := gocv.NewMat()
	defer ycrcb.Close()
	gocv.CvtColor(bgr, &ycrcb, gocv.ColorBGRToYCrCb)

	hsvMask := gocv.NewMat()
	defer hsvMask.Close()
	gocv.InRangeWithScalar(hsv, sd.hsv.Lower, sd.hsv.Upper, &hsvMask)

	ycrcbMask := gocv.NewMat()
	defer ycrcbMask.Close()
	gocv.InRangeWithScalar(ycrcb, sd.ycrcb.Lower, sd.ycrcb.Upper, &ycrcbMask)

	skinMask := gocv.NewMat()
	gocv.BitwiseAnd(hsvMask, ycrcbMask, &skinMask)

	return skinMask
}
