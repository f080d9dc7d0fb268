package service

import (
	"fmt"

	"github.com/TIANLI0/OverlayKit/model"
	"gonum.org/v1/gonum/mat"
)

// ComputeHomography 四点直接线性变换求解 src -> dst 的单应矩阵（h33 = 1）
func ComputeHomography(src, dst model.Quad) (model.Homography, error) {
	if err := src.Validate(); err != nil {
		return model.Homography{}, fmt.Errorf("source quad: %w", err)
	}
	if err := dst.Validate(); err != nil {
		return model.Homography{}, fmt.Errorf("destination quad: %w", err)
	}

	s := src.Points()
	d := dst.Points()

	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := s[i].X, s[i].Y
		u, v := d[i].X, d[i].Y

		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}

	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return model.Homography{}, fmt.Errorf("%w: %v", model.ErrDegenerateQuad, err)
	}

	var out model.Homography
	for i := 0; i < 8; i++ {
		out[i] = h.AtVec(i)
	}
	out[8] = 1
	return out, nil
}
