package service

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TIANLI0/OverlayKit/config"
	"github.com/TIANLI0/OverlayKit/model"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

const (
	userWidth     = 800
	userHeight    = 600
	garmentWidth  = 400
	garmentHeight = 500
)

var (
	skinBGR    = gocv.NewScalar(120, 160, 220, 0)
	blueBGR    = gocv.NewScalar(200, 50, 30, 0)
	neutralBGR = gocv.NewScalar(128, 128, 128, 0)
)

// garmentRect 假服装在 400x500 服装图中的不透明区域
var garmentRect = image.Rect(80, 60, 320, 460)

func solid(t *testing.T, width, height int, c gocv.Scalar) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(c, height, width, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

func solidMask(t *testing.T, width, height int, r image.Rectangle, value uint8) gocv.Mat {
	t.Helper()
	data := make([]byte, width*height)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			data[y*width+x] = value
		}
	}
	m, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8U, data)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func maskAt(m gocv.Mat, x, y int) uint8 {
	return m.ToBytes()[y*m.Cols()+x]
}

func bgrAt(m gocv.Mat, x, y int) [3]uint8 {
	data := m.ToBytes()
	i := (y*m.Cols() + x) * 3
	return [3]uint8{data[i], data[i+1], data[i+2]}
}

// torsoLandmarks 以像素坐标构造关节点，其余关节保持零值
func torsoLandmarks(width, height int, ls, rs, rh, lh model.Point) *model.PoseLandmarkSet {
	var set model.PoseLandmarkSet
	for i := range set {
		set[i].ID = model.LandmarkID(i)
	}
	put := func(id model.LandmarkID, p model.Point) {
		set[id].X = p.X / float64(width)
		set[id].Y = p.Y / float64(height)
		set[id].Visibility = 1
	}
	put(model.LeftShoulder, ls)
	put(model.RightShoulder, rs)
	put(model.RightHip, rh)
	put(model.LeftHip, lh)
	put(model.Nose, model.Point{X: (ls.X + rs.X) / 2, Y: ls.Y / 3})
	put(model.LeftWrist, model.Point{X: ls.X - 60, Y: lh.Y - 100})
	put(model.RightWrist, model.Point{X: rs.X + 60, Y: rh.Y - 100})
	return &set
}

func userLandmarks() *model.PoseLandmarkSet {
	return torsoLandmarks(userWidth, userHeight,
		model.Point{X: 300, Y: 150}, model.Point{X: 500, Y: 150},
		model.Point{X: 490, Y: 400}, model.Point{X: 310, Y: 400})
}

func garmentLandmarks() *model.PoseLandmarkSet {
	return torsoLandmarks(garmentWidth, garmentHeight,
		model.Point{X: 100, Y: 100}, model.Point{X: 300, Y: 100},
		model.Point{X: 290, Y: 400}, model.Point{X: 110, Y: 400})
}

// fakeDetector 按图像宽度返回预设关节点，并记录同时进行中的调用数
type fakeDetector struct {
	mu      sync.Mutex
	byWidth map[int]*model.PoseLandmarkSet
	err     error
	calls   int

	delay       time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeDetector() *fakeDetector {
	return &fakeDetector{byWidth: map[int]*model.PoseLandmarkSet{
		userWidth:    userLandmarks(),
		garmentWidth: garmentLandmarks(),
	}}
}

func (d *fakeDetector) Detect(ctx context.Context, img gocv.Mat) (*model.PoseLandmarkSet, error) {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		peak := d.maxInFlight.Load()
		if n <= peak || d.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	if img.Type() != gocv.MatTypeCV8UC3 {
		return nil, errors.New("detector expects BGR input")
	}
	return d.byWidth[img.Cols()], nil
}

func (d *fakeDetector) Close() error { return nil }

// fakeRemover 忽略输入，返回固定的 BGRA PNG
type fakeRemover struct {
	out []byte
	err error
}

func (r *fakeRemover) Remove(ctx context.Context, data []byte) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.out, nil
}

func (r *fakeRemover) Close() error { return nil }

// garmentPNG 400x500 的 BGRA 服装图，garmentRect 内为 fill 颜色且不透明
func garmentPNG(t *testing.T, fill gocv.Scalar) []byte {
	t.Helper()
	color := solid(t, garmentWidth, garmentHeight, neutralBGR)
	region := color.Region(garmentRect)
	region.SetTo(fill)
	region.Close()

	alpha := solidMask(t, garmentWidth, garmentHeight, garmentRect, 255)

	planes := gocv.Split(color)
	defer func() {
		for i := range planes {
			planes[i].Close()
		}
	}()

	bgra := gocv.NewMat()
	defer bgra.Close()
	gocv.Merge([]gocv.Mat{planes[0], planes[1], planes[2], alpha}, &bgra)

	data, err := encodeImage(".png", bgra)
	require.NoError(t, err)
	return data
}

func userPNG(t *testing.T) []byte {
	t.Helper()
	data, err := encodeImage(".png", solid(t, userWidth, userHeight, neutralBGR))
	require.NoError(t, err)
	return data
}

func garmentFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tee.png")
	require.NoError(t, os.WriteFile(path, []byte("raw garment photo"), 0o644))
	return path
}

func testOverlayConfig(t *testing.T) *config.OverlayConfig {
	t.Helper()
	return &config.OverlayConfig{
		MaxConcurrent:   2,
		QueueTimeout:    5,
		ResultDir:       t.TempDir(),
		ResultPrefix:    "result_",
		ResultURLPrefix: "/results/",
		HeadMargin:      10,
		NeckRadiusRatio: 0.2,
		HandExclusion:   true,
		HandRadiusRatio: 0.05,
		SeamlessBlend:   true,
	}
}
