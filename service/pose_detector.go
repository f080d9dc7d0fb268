package service

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/TIANLI0/OverlayKit/config"
	"github.com/TIANLI0/OverlayKit/inference"
	"github.com/TIANLI0/OverlayKit/model"
	"github.com/TIANLI0/OverlayKit/utils"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// BlazePose 输出 39 个点，每点 x, y, z, visibility, presence；前 33 个为标准关节
const (
	poseOutputPoints = 39
	poseOutputStride = 5
)

var _ LandmarkProvider = (*PoseDetector)(nil)

// PoseDetector 基于 BlazePose landmark ONNX 模型的关节点检测
type PoseDetector struct {
	session   *inference.Session
	inputSize int
	threshold float64
}

// letterbox 记录缩放与填充，用于把模型坐标还原到原图
type letterbox struct {
	scale     float64
	padX      int
	padY      int
	srcWidth  int
	srcHeight int
}

func NewPoseDetector(cfg *config.ModelsConfig) (*PoseDetector, error) {
	session, err := inference.NewSession(
		cfg.PoseModel,
		[]string{cfg.PoseInputName},
		[]string{cfg.PoseLandmarkOutput, cfg.PoseFlagOutput},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pose session: %w", err)
	}
	utils.Logger.Info("pose model loaded",
		zap.String("model", session.ModelPath()),
		zap.Int("input_size", cfg.PoseInputSize))

	return &PoseDetector{
		session:   session,
		inputSize: cfg.PoseInputSize,
		threshold: cfg.PoseScoreThreshold,
	}, nil
}

// Detect 检测第一个人体的 33 个关节点
func (pd *PoseDetector) Detect(ctx context.Context, img gocv.Mat) (*model.PoseLandmarkSet, error) {
	if img.Empty() {
		return nil, fmt.Errorf("pose input is empty")
	}
	if img.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("pose input must be 8-bit BGR, got %d channels", img.Channels())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input, lb := pd.preprocess(img)
	size := int64(pd.inputSize)

	inputTensor, err := inference.CreateTensor([]int64{1, size, size, 3}, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	landmarkTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, poseOutputPoints * poseOutputStride})
	if err != nil {
		return nil, fmt.Errorf("failed to create landmark tensor: %w", err)
	}
	defer landmarkTensor.Destroy()

	flagTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, 1})
	if err != nil {
		return nil, fmt.Errorf("failed to create pose flag tensor: %w", err)
	}
	defer flagTensor.Destroy()

	if err := pd.session.Run([]ort.Value{inputTensor}, []ort.Value{landmarkTensor, flagTensor}); err != nil {
		return nil, fmt.Errorf("pose inference failed: %w", err)
	}

	score := float64(flagTensor.GetData()[0])
	if score < 0 || score > 1 {
		score = sigmoid(score)
	}
	if score < pd.threshold {
		return nil, nil
	}

	set := pd.postprocess(landmarkTensor.GetData(), lb)
	return &set, nil
}

// preprocess 等比缩放并居中填充到正方形，输出 NHWC RGB [0,1]
func (pd *PoseDetector) preprocess(img gocv.Mat) ([]float32, letterbox) {
	w, h := img.Cols(), img.Rows()
	scale := float64(pd.inputSize) / float64(max(w, h))
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))

	lb := letterbox{
		scale:     scale,
		padX:      (pd.inputSize - nw) / 2,
		padY:      (pd.inputSize - nh) / 2,
		srcWidth:  w,
		srcHeight: h,
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(nw, nh), 0, 0, gocv.InterpolationLinear)

	padded := gocv.NewMat()
	defer padded.Close()
	gocv.CopyMakeBorder(resized, &padded,
		lb.padY, pd.inputSize-nh-lb.padY,
		lb.padX, pd.inputSize-nw-lb.padX,
		gocv.BorderConstant, color.RGBA{})

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(padded, &rgb, gocv.ColorBGRToRGB)

	pixels := rgb.ToBytes()
	input := make([]float32, len(pixels))
	for i, p := range pixels {
		input[i] = float32(p) / 255
	}
	return input, lb
}

// postprocess 将模型输入坐标还原为原图归一化坐标
func (pd *PoseDetector) postprocess(output []float32, lb letterbox) model.PoseLandmarkSet {
	var set model.PoseLandmarkSet
	for i := 0; i < model.NumLandmarks; i++ {
		o := output[i*poseOutputStride : (i+1)*poseOutputStride]
		x := (float64(o[0]) - float64(lb.padX)) / lb.scale
		y := (float64(o[1]) - float64(lb.padY)) / lb.scale

		set[i] = model.Landmark{
			ID:         model.LandmarkID(i),
			X:          x / float64(lb.srcWidth),
			Y:          y / float64(lb.srcHeight),
			Visibility: sigmoid(float64(o[3])),
		}
	}
	return set
}

// Close 释放推理会话
func (pd *PoseDetector) Close() error {
	return pd.session.Destroy()
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}
