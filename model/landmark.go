package model

// LandmarkID BlazePose 33 点关节编号
type LandmarkID int

const (
	Nose LandmarkID = iota
	LeftEyeInner
	LeftEye
	LeftEyeOuter
	RightEyeInner
	RightEye
	RightEyeOuter
	LeftEar
	RightEar
	MouthLeft
	MouthRight
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftPinky
	RightPinky
	LeftIndex
	RightIndex
	LeftThumb
	RightThumb
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	LeftHeel
	RightHeel
	LeftFootIndex
	RightFootIndex
)

// NumLandmarks 一次检测产生的关节点数量
const NumLandmarks = 33

// Landmark 单个关节点，坐标归一化到 [0,1]
type Landmark struct {
	ID         LandmarkID `json:"id"`
	X          float64    `json:"x"`
	Y          float64    `json:"y"`
	Visibility float64    `json:"visibility"`
}

// Pixel 将归一化坐标换算为像素坐标
func (l Landmark) Pixel(width, height int) Point {
	return Point{X: l.X * float64(width), Y: l.Y * float64(height)}
}

// PoseLandmarkSet 一个人体的完整关节点集合；未检测到时用 nil 表示
type PoseLandmarkSet [NumLandmarks]Landmark

// Get 按编号取关节点
func (s *PoseLandmarkSet) Get(id LandmarkID) Landmark {
	return s[id]
}
