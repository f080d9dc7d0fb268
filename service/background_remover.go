package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/TIANLI0/OverlayKit/config"
	"github.com/TIANLI0/OverlayKit/inference"
	"github.com/TIANLI0/OverlayKit/utils"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var (
	_ BackgroundRemover = (*U2NetRemover)(nil)
	_ BackgroundRemover = (*HTTPRemover)(nil)
)

// ImageNet 归一化参数（RGB 顺序）
var (
	u2netMean = [3]float32{0.485, 0.456, 0.406}
	u2netStd  = [3]float32{0.229, 0.224, 0.225}
)

// NewBackgroundRemover 按配置选择进程内 ONNX、远程 rembg 服务或 GrabCut
func NewBackgroundRemover(cfg *config.ModelsConfig) (BackgroundRemover, error) {
	switch cfg.RemoverBackend {
	case "http":
		return NewHTTPRemover(cfg.RemoverURL, cfg.RemoverTimeout), nil
	case "grabcut":
		return NewGrabCutRemover(cfg.GrabCutIterations, cfg.GrabCutMaxSize), nil
	case "onnx", "":
		return NewU2NetRemover(cfg)
	default:
		return nil, fmt.Errorf("unknown remover backend %q", cfg.RemoverBackend)
	}
}

// U2NetRemover 使用 u2net 显著性模型生成前景 alpha
type U2NetRemover struct {
	session   *inference.Session
	inputSize int
}

func NewU2NetRemover(cfg *config.ModelsConfig) (*U2NetRemover, error) {
	session, err := inference.NewSession(
		cfg.RemoverModel,
		[]string{cfg.RemoverInputName},
		[]string{cfg.RemoverOutputName},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create remover session: %w", err)
	}
	utils.Logger.Info("remover model loaded",
		zap.String("model", session.ModelPath()),
		zap.Int("input_size", cfg.RemoverInputSize))
	return &U2NetRemover{session: session, inputSize: cfg.RemoverInputSize}, nil
}

// Remove 返回 PNG 编码的 BGRA 图像
func (r *U2NetRemover) Remove(ctx context.Context, data []byte) ([]byte, error) {
	img, err := decodeBGR(data)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := r.preprocess(img)
	size := int64(r.inputSize)

	inputTensor, err := inference.CreateTensor([]int64{1, 3, size, size}, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := inference.CreateEmptyTensor[float32]([]int64{1, 1, size, size})
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := r.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil, fmt.Errorf("remover inference failed: %w", err)
	}

	alpha, err := r.postprocess(outputTensor.GetData(), img.Cols(), img.Rows())
	if err != nil {
		return nil, err
	}
	defer alpha.Close()

	planes := gocv.Split(img)
	defer func() {
		for i := range planes {
			planes[i].Close()
		}
	}()

	bgra := gocv.NewMat()
	defer bgra.Close()
	gocv.Merge([]gocv.Mat{planes[0], planes[1], planes[2], alpha}, &bgra)

	return encodeImage(".png", bgra)
}

// preprocess 缩放到模型输入尺寸，按全图最大值归一化后做 ImageNet 标准化，输出 NCHW RGB
func (r *U2NetRemover) preprocess(img gocv.Mat) []float32 {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(r.inputSize, r.inputSize), 0, 0, gocv.InterpolationLinear)

	pixels := resized.ToBytes()
	peak := byte(1)
	for _, p := range pixels {
		peak = max(peak, p)
	}

	plane := r.inputSize * r.inputSize
	input := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		b, g, rd := pixels[i*3], pixels[i*3+1], pixels[i*3+2]
		for c, v := range [3]byte{rd, g, b} {
			input[c*plane+i] = (float32(v)/float32(peak) - u2netMean[c]) / u2netStd[c]
		}
	}
	return input
}

// postprocess 最小-最大归一化后放大回原图尺寸
func (r *U2NetRemover) postprocess(pred []float32, width, height int) (gocv.Mat, error) {
	lo, hi := pred[0], pred[0]
	for _, v := range pred {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	span := hi - lo
	if span <= 0 {
		return gocv.Mat{}, fmt.Errorf("remover produced a flat prediction")
	}

	buf := make([]byte, len(pred))
	for i, v := range pred {
		buf[i] = byte((v-lo)/span*255 + 0.5)
	}

	small, err := gocv.NewMatFromBytes(r.inputSize, r.inputSize, gocv.MatTypeCV8U, buf)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to build alpha: %w", err)
	}
	defer small.Close()

	alpha := gocv.NewMat()
	gocv.Resize(small, &alpha, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	return alpha, nil
}

// Close 释放推理会话
func (r *U2NetRemover) Close() error {
	return r.session.Destroy()
}

// HTTPRemover 调用 rembg HTTP 服务（POST multipart 字段 file）
type HTTPRemover struct {
	url    string
	client *http.Client
}

func NewHTTPRemover(url string, timeout time.Duration) *HTTPRemover {
	return &HTTPRemover{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRemover) Remove(ctx context.Context, data []byte) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "garment")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remover request failed: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read remover response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remover returned status %d", resp.StatusCode)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("remover returned an empty body")
	}
	return out, nil
}

func (r *HTTPRemover) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
