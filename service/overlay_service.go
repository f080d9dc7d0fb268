package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/TIANLI0/OverlayKit/config"
	"github.com/TIANLI0/OverlayKit/model"
	"github.com/TIANLI0/OverlayKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// OverlayRequest 单次试穿请求
type OverlayRequest struct {
	RequestID   string
	UserImage   []byte
	UploadName  string
	GarmentID   string
	GarmentPath string
}

// RenderStats 合成过程的中间信息
type RenderStats struct {
	BlendMode   BlendMode
	GarmentBox  image.Rectangle
	UserQuad    model.Quad
	GarmentQuad model.Quad
	Homography  model.Homography
}

// OverlayService 负责服装叠加流水线，并发受信号量限制
type OverlayService struct {
	semaphore       chan struct{}
	queueTimeout    time.Duration
	resultDir       string
	resultPrefix    string
	resultURLPrefix string
	detector        LandmarkProvider
	remover         BackgroundRemover
	extractor       *GarmentMaskExtractor
	mapper          *QuadMapper
	warper          *PerspectiveWarper
	compositor      *Compositor
}

func NewOverlayService(cfg *config.OverlayConfig, detector LandmarkProvider, remover BackgroundRemover) *OverlayService {
	workers := cfg.MaxConcurrent
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return &OverlayService{
		semaphore:       make(chan struct{}, workers),
		queueTimeout:    time.Duration(cfg.QueueTimeout) * time.Second,
		resultDir:       cfg.ResultDir,
		resultPrefix:    cfg.ResultPrefix,
		resultURLPrefix: cfg.ResultURLPrefix,
		detector:        detector,
		remover:         remover,
		extractor:       NewGarmentMaskExtractor(MaskOptionsFromConfig(cfg), NewSkinDetector()),
		mapper:          NewQuadMapper(cfg.QuadPadding),
		warper:          NewPerspectiveWarper(),
		compositor:      NewCompositor(cfg.SeamlessBlend),
	}
}

// Process 排队执行流水线，成功后一次性写入结果文件
func (s *OverlayService) Process(ctx context.Context, req OverlayRequest) (*model.OverlayResult, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { <-s.semaphore }()

	startTime := time.Now()

	composite, stats, err := s.Render(ctx, req)
	if err != nil {
		return nil, err
	}
	defer composite.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := utils.ResultName(s.resultPrefix, req.UploadName)
	data, err := encodeForName(name, composite)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.resultDir, name)
	if err := utils.WriteFileAtomic(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to persist result: %w", err)
	}

	result := &model.OverlayResult{
		RequestID:  req.RequestID,
		UserMD5:    utils.BytesMD5(req.UserImage),
		GarmentID:  req.GarmentID,
		ResultPath: path,
		ResultURL:  s.resultURLPrefix + name,
		Width:      composite.Cols(),
		Height:     composite.Rows(),
		BlendMode:  string(stats.BlendMode),
		GarmentBox: model.BBox{
			X:      stats.GarmentBox.Min.X,
			Y:      stats.GarmentBox.Min.Y,
			Width:  stats.GarmentBox.Dx(),
			Height: stats.GarmentBox.Dy(),
		},
		DurationMS: time.Since(startTime).Milliseconds(),
		Timestamp:  time.Now().Unix(),
	}

	utils.Logger.Info("overlay persisted",
		zap.String("request_id", req.RequestID),
		zap.String("path", path),
		zap.String("blend_mode", result.BlendMode),
		zap.Duration("duration", time.Since(startTime)))

	return result, nil
}

// acquire 有空闲槽位时立即占用，否则最多等待 queueTimeout
func (s *OverlayService) acquire(ctx context.Context) error {
	select {
	case s.semaphore <- struct{}{}:
		return nil
	default:
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.queueTimeout)
	defer cancel()

	select {
	case s.semaphore <- struct{}{}:
		return nil
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrQueueFull
	}
}

// Render 在内存中完成全部阶段，任一阶段失败立即返回对应类型的 OverlayError。
// 失败时返回零值 Mat，中间结果全部在此释放
func (s *OverlayService) Render(ctx context.Context, req OverlayRequest) (gocv.Mat, RenderStats, error) {
	var stats RenderStats
	log := utils.Logger.With(
		zap.String("request_id", req.RequestID),
		zap.String("garment_id", req.GarmentID))

	// LoadUser
	user, err := decodeBGR(req.UserImage)
	if err != nil {
		return gocv.Mat{}, stats, newOverlayError(KindDecodeFailure, "user image could not be decoded", err)
	}
	defer user.Close()
	width, height := user.Cols(), user.Rows()
	log.Debug("user image loaded", zap.Int("width", width), zap.Int("height", height))

	// DetectUserPose
	if err := ctx.Err(); err != nil {
		return gocv.Mat{}, stats, err
	}
	userLandmarks, err := s.detector.Detect(ctx, user)
	if err != nil {
		log.Warn("user pose detection failed", zap.Error(err))
		return gocv.Mat{}, stats, newOverlayError(KindUserPoseNotFound, "pose detection failed on the user photo", err)
	}
	if userLandmarks == nil {
		return gocv.Mat{}, stats, newOverlayError(KindUserPoseNotFound, "no body detected in the user photo", nil)
	}

	// ObtainGarment
	if err := ctx.Err(); err != nil {
		return gocv.Mat{}, stats, err
	}
	garment, err := s.obtainGarment(ctx, req.GarmentPath)
	if err != nil {
		return gocv.Mat{}, stats, err
	}
	defer garment.Close()
	log.Debug("garment background removed",
		zap.Int("width", garment.Color.Cols()), zap.Int("height", garment.Color.Rows()))

	// DetectGarmentPose
	if err := ctx.Err(); err != nil {
		return gocv.Mat{}, stats, err
	}
	garmentLandmarks, err := s.detector.Detect(ctx, garment.Color)
	if err != nil {
		log.Warn("garment pose detection failed", zap.Error(err))
		return gocv.Mat{}, stats, newOverlayError(KindGarmentPoseNotFound, "pose detection failed on the garment photo", err)
	}
	if garmentLandmarks == nil {
		return gocv.Mat{}, stats, newOverlayError(KindGarmentPoseNotFound, "no body pose found in the garment photo", nil)
	}

	// ExtractGarmentMask
	mask := s.extractor.Extract(*garment, garmentLandmarks)
	defer mask.Close()
	if gocv.CountNonZero(mask) == 0 {
		return gocv.Mat{}, stats, newOverlayError(KindEmptyGarmentMask, "nothing of the garment survived mask refinement", nil)
	}

	// BuildQuads
	gw, gh := garment.Color.Cols(), garment.Color.Rows()
	stats.GarmentQuad = s.mapper.Map(garmentLandmarks, gw, gh)
	stats.UserQuad = s.mapper.Map(userLandmarks, width, height)

	h, err := ComputeHomography(stats.GarmentQuad, stats.UserQuad)
	if err != nil {
		return gocv.Mat{}, stats, newOverlayError(KindDegenerateGeometry, "torso landmarks do not form a usable quadrilateral", err)
	}
	stats.Homography = h

	// Warp
	if err := ctx.Err(); err != nil {
		return gocv.Mat{}, stats, err
	}
	refined := GarmentAsset{Color: garment.Color, Mask: mask}
	warpedColor, warpedMask, err := s.warper.WarpWith(refined, h, width, height)
	defer warpedColor.Close()
	defer warpedMask.Close()
	if err != nil {
		return gocv.Mat{}, stats, fmt.Errorf("warp failed: %w", err)
	}

	// Composite
	out, mode, box, err := s.compositor.Composite(user, warpedColor, warpedMask)
	if err != nil {
		out.Close()
		if errors.Is(err, ErrEmptyComposite) {
			return gocv.Mat{}, stats, newOverlayError(KindCompositeFailure, "the garment falls outside the user photo", err)
		}
		return gocv.Mat{}, stats, newOverlayError(KindCompositeFailure, "blending failed", err)
	}
	stats.BlendMode = mode
	stats.GarmentBox = box

	log.Debug("overlay rendered",
		zap.String("blend_mode", string(mode)),
		zap.String("garment_box", box.String()))

	return out, stats, nil
}

// obtainGarment 读取服装资源并去背景，拆分为 BGR 颜色与 alpha 掩码
func (s *OverlayService) obtainGarment(ctx context.Context, path string) (*GarmentAsset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read garment asset: %w", err)
	}

	removed, err := s.remover.Remove(ctx, raw)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, newOverlayError(KindBackgroundRemovalFailure, "background removal failed", err)
	}

	bgra, err := decodeBGRA(removed)
	if err != nil {
		return nil, newOverlayError(KindBackgroundRemovalFailure, "background removal output is unreadable", err)
	}
	defer bgra.Close()

	planes := gocv.Split(bgra)
	defer func() {
		for i := range planes {
			planes[i].Close()
		}
	}()

	color := gocv.NewMat()
	gocv.CvtColor(bgra, &color, gocv.ColorBGRAToBGR)

	return &GarmentAsset{Color: color, Mask: planes[3].Clone()}, nil
}
