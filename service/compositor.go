package service

import (
	"fmt"
	"image"
	"math"

	"github.com/TIANLI0/OverlayKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// BlendMode 实际使用的融合方式
type BlendMode string

const (
	BlendSeamless BlendMode = "seamless"
	BlendAlpha    BlendMode = "alpha"
)

// Compositor 将变换后的服装融合到人像上，优先泊松融合，失败时退回 alpha 混合
type Compositor struct {
	seamless bool
}

func NewCompositor(seamless bool) *Compositor {
	return &Compositor{seamless: seamless}
}

// Composite 返回与 base 同尺寸的合成图、所用融合方式以及掩码边界框
func (c *Compositor) Composite(base, fg, mask gocv.Mat) (gocv.Mat, BlendMode, image.Rectangle, error) {
	if err := checkCompositeInputs(base, fg, mask); err != nil {
		return gocv.Mat{}, "", image.Rectangle{}, err
	}

	maskData := mask.ToBytes()
	width, height := base.Cols(), base.Rows()

	box := maskBounds(maskData, width, height, 0)
	if box.Empty() {
		return gocv.Mat{}, "", image.Rectangle{}, ErrEmptyComposite
	}
	center := image.Pt((box.Min.X+box.Max.X-1)/2, (box.Min.Y+box.Max.Y-1)/2)

	if c.seamless {
		if out, ok := c.seamlessBlend(base, fg, mask, maskData, center); ok {
			return out, BlendSeamless, box, nil
		}
	}

	out, err := alphaBlend(base, fg, maskData)
	if err != nil {
		return gocv.Mat{}, "", image.Rectangle{}, err
	}
	return out, BlendAlpha, box, nil
}

// seamlessBlend 泊松融合；OpenCV 会忽略掩码最外一圈像素，并要求以 center 为中心的区域完整落在画面内
func (c *Compositor) seamlessBlend(base, fg, mask gocv.Mat, maskData []byte, center image.Point) (gocv.Mat, bool) {
	width, height := base.Cols(), base.Rows()

	inner := maskBounds(maskData, width, height, 1)
	if inner.Dx() < 3 || inner.Dy() < 3 {
		utils.Logger.Debug("seamless blend inapplicable, mask interior too small",
			zap.Int("width", inner.Dx()), zap.Int("height", inner.Dy()))
		return gocv.Mat{}, false
	}

	origin := image.Pt(center.X-inner.Dx()/2, center.Y-inner.Dy()/2)
	roi := image.Rectangle{Min: origin, Max: origin.Add(inner.Size())}
	if !roi.In(image.Rect(0, 0, width, height)) {
		utils.Logger.Debug("seamless blend inapplicable, clone region leaves the frame",
			zap.String("roi", roi.String()))
		return gocv.Mat{}, false
	}

	blended := gocv.NewMat()
	if err := gocv.SeamlessClone(fg, base, mask, center, &blended, gocv.NormalClone); err != nil || blended.Empty() {
		utils.Logger.Warn("seamless blend failed, falling back to alpha blend", zap.Error(err))
		blended.Close()
		return gocv.Mat{}, false
	}
	if blended.Rows() != height || blended.Cols() != width {
		blended.Close()
		return gocv.Mat{}, false
	}
	return blended, true
}

// alphaBlend out = fg*a + base*(1-a)，a = mask/255
func alphaBlend(base, fg gocv.Mat, maskData []byte) (gocv.Mat, error) {
	baseData := base.ToBytes()
	fgData := fg.ToBytes()

	out := make([]byte, len(baseData))
	for i, m := range maskData {
		a := float64(m) / 255
		for ch := 0; ch < 3; ch++ {
			j := i*3 + ch
			v := float64(fgData[j])*a + float64(baseData[j])*(1-a)
			out[j] = uint8(math.Min(255, math.Max(0, math.Round(v))))
		}
	}

	return gocv.NewMatFromBytes(base.Rows(), base.Cols(), gocv.MatTypeCV8UC3, out)
}

// maskBounds 非零像素的边界框，忽略距边缘 border 像素以内的区域
func maskBounds(data []byte, width, height, border int) image.Rectangle {
	minX, minY := width, height
	maxX, maxY := -1, -1
	for y := border; y < height-border; y++ {
		row := data[y*width : (y+1)*width]
		for x := border; x < width-border; x++ {
			if row[x] == 0 {
				continue
			}
			minX = min(minX, x)
			maxX = max(maxX, x)
			minY = min(minY, y)
			maxY = max(maxY, y)
		}
	}
	if maxX < 0 {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

func checkCompositeInputs(base, fg, mask gocv.Mat) error {
	if base.Empty() || fg.Empty() || mask.Empty() {
		return fmt.Errorf("composite inputs must not be empty")
	}
	if base.Type() != gocv.MatTypeCV8UC3 || fg.Type() != gocv.MatTypeCV8UC3 {
		return fmt.Errorf("composite expects 8-bit BGR base and foreground")
	}
	if mask.Type() != gocv.MatTypeCV8UC1 {
		return fmt.Errorf("composite expects an 8-bit single channel mask")
	}
	if base.Rows() != fg.Rows() || base.Cols() != fg.Cols() ||
		base.Rows() != mask.Rows() || base.Cols() != mask.Cols() {
		return fmt.Errorf("composite inputs differ in size: base %dx%d, fg %dx%d, mask %dx%d",
			base.Cols(), base.Rows(), fg.Cols(), fg.Rows(), mask.Cols(), mask.Rows())
	}
	return nil
}
