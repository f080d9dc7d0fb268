package service

import (
	"math"

	"github.com/TIANLI0/OverlayKit/model"
)

// QuadMapper 由关节点构造躯干四边形；服装与人像必须使用同一个实例
type QuadMapper struct {
	padFraction float64
}

func NewQuadMapper(padFraction float64) *QuadMapper {
	return &QuadMapper{padFraction: math.Max(0, padFraction)}
}

// Map 使用实例的填充比例构造四边形
func (qm *QuadMapper) Map(landmarks *model.PoseLandmarkSet, width, height int) model.Quad {
	return QuadFor(landmarks, width, height, qm.padFraction)
}

// QuadFor 将左肩、右肩、右髋、左髋投影到像素坐标；padFraction > 0 时向外扩展
func QuadFor(landmarks *model.PoseLandmarkSet, width, height int, padFraction float64) model.Quad {
	q := model.Quad{
		LeftShoulder:  landmarks.Get(model.LeftShoulder).Pixel(width, height),
		RightShoulder: landmarks.Get(model.RightShoulder).Pixel(width, height),
		RightHip:      landmarks.Get(model.RightHip).Pixel(width, height),
		LeftHip:       landmarks.Get(model.LeftHip).Pixel(width, height),
	}
	if padFraction <= 0 {
		return q
	}

	shoulderWidth := math.Hypot(q.RightShoulder.X-q.LeftShoulder.X, q.RightShoulder.Y-q.LeftShoulder.Y)
	torsoHeight := (q.LeftHip.Y+q.RightHip.Y)/2 - (q.LeftShoulder.Y+q.RightShoulder.Y)/2
	dx := padFraction * shoulderWidth
	dy := padFraction * math.Abs(torsoHeight)

	// 按角色扩展：左侧两点远离右侧，肩部远离髋部；镜像人像由肩线与躯干方向决定符号
	hs := sign(q.RightShoulder.X - q.LeftShoulder.X)
	if hs == 0 {
		hs = 1
	}
	vs := sign(torsoHeight)
	if vs == 0 {
		vs = 1
	}
	shift := func(p model.Point, sx, sy float64) model.Point {
		return model.Point{X: p.X + sx*dx, Y: p.Y + sy*dy}
	}

	return model.Quad{
		LeftShoulder:  shift(q.LeftShoulder, -hs, -vs),
		RightShoulder: shift(q.RightShoulder, hs, -vs),
		RightHip:      shift(q.RightHip, hs, vs),
		LeftHip:       shift(q.LeftHip, -hs, vs),
	}
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
