package service

import (
	"fmt"
	"image"
	"image/color"

	"github.com/TIANLI0/OverlayKit/model"
	"gocv.io/x/gocv"
)

// PerspectiveWarper 将服装颜色与掩码按单应矩阵重采样到目标画布
type PerspectiveWarper struct{}

func NewPerspectiveWarper() *PerspectiveWarper {
	return &PerspectiveWarper{}
}

// Warp 返回目标尺寸的 BGR 颜色图与掩码；四边形退化时返回 model.ErrDegenerateQuad
func (pw *PerspectiveWarper) Warp(asset GarmentAsset, src, dst model.Quad, width, height int) (gocv.Mat, gocv.Mat, error) {
	h, err := ComputeHomography(src, dst)
	if err != nil {
		return gocv.Mat{}, gocv.Mat{}, err
	}
	return pw.WarpWith(asset, h, width, height)
}

// WarpWith 使用已知单应矩阵重采样，超出源图范围的像素完全透明
func (pw *PerspectiveWarper) WarpWith(asset GarmentAsset, h model.Homography, width, height int) (gocv.Mat, gocv.Mat, error) {
	if asset.Color.Rows() != asset.Mask.Rows() || asset.Color.Cols() != asset.Mask.Cols() {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("garment colour %dx%d and mask %dx%d differ",
			asset.Color.Cols(), asset.Color.Rows(), asset.Mask.Cols(), asset.Mask.Rows())
	}

	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer m.Close()
	for i, v := range h {
		m.SetDoubleAt(i/3, i%3, v)
	}

	planes := gocv.Split(asset.Color)
	defer func() {
		for i := range planes {
			planes[i].Close()
		}
	}()
	if len(planes) != 3 {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("garment colour must have 3 channels, got %d", len(planes))
	}

	bgra := gocv.NewMat()
	defer bgra.Close()
	gocv.Merge([]gocv.Mat{planes[0], planes[1], planes[2], asset.Mask}, &bgra)

	warped := gocv.NewMat()
	defer warped.Close()
	gocv.WarpPerspectiveWithParams(bgra, &warped, m, image.Pt(width, height),
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})

	out := gocv.Split(warped)
	if len(out) != 4 {
		for i := range out {
			out[i].Close()
		}
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("warp produced %d channels", len(out))
	}

	warpedColor := gocv.NewMat()
	gocv.Merge(out[:3], &warpedColor)
	for i := 0; i < 3; i++ {
		out[i].Close()
	}

	return warpedColor, out[3], nil
}
