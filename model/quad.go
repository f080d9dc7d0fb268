package model

import (
	"errors"
	"math"
)

// ErrDegenerateQuad 四边形存在共线顶点，无法求解透视变换
var ErrDegenerateQuad = errors.New("degenerate quad: collinear corners")

// minTriangleArea 任意三个顶点围成的三角形面积下限（像素平方）
const minTriangleArea = 1.0

// Point 像素坐标
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// QuadCorner 躯干四边形顶点的固定顺序
type QuadCorner int

const (
	CornerLeftShoulder QuadCorner = iota
	CornerRightShoulder
	CornerRightHip
	CornerLeftHip
)

// Quad 躯干四边形，顶点顺序固定为 左肩、右肩、右髋、左髋
type Quad struct {
	LeftShoulder  Point `json:"left_shoulder"`
	RightShoulder Point `json:"right_shoulder"`
	RightHip      Point `json:"right_hip"`
	LeftHip       Point `json:"left_hip"`
}

// Points 按固定顺序返回四个顶点
func (q Quad) Points() [4]Point {
	return [4]Point{
		CornerLeftShoulder:  q.LeftShoulder,
		CornerRightShoulder: q.RightShoulder,
		CornerRightHip:      q.RightHip,
		CornerLeftHip:       q.LeftHip,
	}
}

// SignedArea 鞋带公式计算的有向面积
func (q Quad) SignedArea() float64 {
	p := q.Points()
	var a float64
	for i := range p {
		j := (i + 1) % len(p)
		a += p[i].X*p[j].Y - p[j].X*p[i].Y
	}
	return a / 2
}

// Validate 检查四边形可用于求解单应矩阵：面积非零且任意三点不共线
func (q Quad) Validate() error {
	p := q.Points()
	for _, v := range p {
		if math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsInf(v.X, 0) || math.IsInf(v.Y, 0) {
			return ErrDegenerateQuad
		}
	}
	if math.Abs(q.SignedArea()) < minTriangleArea {
		return ErrDegenerateQuad
	}
	for i := 0; i < 4; i++ {
		a, b, c := p[i], p[(i+1)%4], p[(i+2)%4]
		cross := (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
		if math.Abs(cross)/2 < minTriangleArea {
			return ErrDegenerateQuad
		}
	}
	return nil
}

// Homography 3x3 单应矩阵（行优先）
type Homography [9]float64

// Apply 将点经单应矩阵映射
func (h Homography) Apply(p Point) Point {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	return Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}
}
