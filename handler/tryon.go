package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/TIANLI0/OverlayKit/config"
	"github.com/TIANLI0/OverlayKit/middleware"
	"github.com/TIANLI0/OverlayKit/model"
	"github.com/TIANLI0/OverlayKit/service"
	"github.com/TIANLI0/OverlayKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type TryOnHandler struct {
	cfg            *config.Config
	redisService   *service.RedisService
	overlayService *service.OverlayService
}

func NewTryOnHandler(cfg *config.Config, redis *service.RedisService, overlay *service.OverlayService) *TryOnHandler {
	return &TryOnHandler{
		cfg:            cfg,
		redisService:   redis,
		overlayService: overlay,
	}
}

// TryOn 上传人像并叠加指定服装
func (h *TryOnHandler) TryOn(c *gin.Context) {
	requestID := middleware.RequestIDFrom(c)

	garmentID := strings.ToLower(strings.TrimSpace(c.PostForm("garment_id")))
	if garmentID == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请指定服装 garment_id",
		})
		return
	}

	garmentPath, ok := h.cfg.Garments.Path(garmentID)
	if !ok {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "未找到该服装",
			Error:   service.ErrUnknownGarment.Error(),
		})
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		utils.Logger.Error("failed to get uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "请上传图片文件",
			Error:   err.Error(),
		})
		return
	}

	// 验证文件大小
	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("文件大小超过限制 (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return
	}

	// 验证文件类型
	contentType := file.Header.Get("Content-Type")
	if !h.isAllowedType(contentType) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "不支持的文件类型，仅支持 JPEG/PNG/WEBP",
		})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	filename := utils.GenerateID() + ext
	savePath := filepath.Join(h.cfg.Upload.UploadDir, filename)

	if err := c.SaveUploadedFile(file, savePath); err != nil {
		utils.Logger.Error("failed to save file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "保存文件失败",
			Error:   err.Error(),
		})
		return
	}

	if h.cfg.Upload.CleanupFiles {
		defer func() {
			if err := os.Remove(savePath); err != nil {
				utils.Logger.Warn("failed to delete upload",
					zap.String("file", savePath),
					zap.Error(err))
			}
		}()
	}

	data, err := os.ReadFile(savePath)
	if err != nil {
		utils.Logger.Error("failed to read upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "读取文件失败",
			Error:   err.Error(),
		})
		return
	}

	userMD5 := utils.BytesMD5(data)
	cacheKey := utils.OverlayKey(userMD5, garmentID)
	ctx := c.Request.Context()

	utils.Logger.Info("try-on requested",
		zap.String("request_id", requestID),
		zap.String("filename", filename),
		zap.String("md5", userMD5),
		zap.String("garment_id", garmentID),
		zap.Int64("size", file.Size))

	if cached := h.lookupCache(ctx, cacheKey); cached != nil {
		cached.RequestID = requestID
		cached.Cached = true
		c.JSON(http.StatusOK, model.TryOnResponse{
			Success: true,
			Message: "处理成功（来自缓存）",
			Data:    cached,
		})
		return
	}

	result, err := h.overlayService.Process(ctx, service.OverlayRequest{
		RequestID:   requestID,
		UserImage:   data,
		UploadName:  filename,
		GarmentID:   garmentID,
		GarmentPath: garmentPath,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	if h.cacheEnabled() {
		if err := h.redisService.SetOverlayResult(ctx, cacheKey, result); err != nil {
			utils.Logger.Warn("failed to set cache", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, model.TryOnResponse{
		Success: true,
		Message: "处理成功",
		Data:    result,
	})
}

// ListGarments 返回可用的服装 id
func (h *TryOnHandler) ListGarments(c *gin.Context) {
	ids := make([]string, 0, len(h.cfg.Garments.Items))
	for id := range h.cfg.Garments.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	c.JSON(http.StatusOK, model.GarmentListResponse{
		Success:  true,
		Garments: ids,
	})
}

// lookupCache 命中且结果文件仍存在时返回缓存结果
func (h *TryOnHandler) lookupCache(ctx context.Context, key string) *model.OverlayResult {
	if !h.cacheEnabled() {
		return nil
	}

	cached, err := h.redisService.GetOverlayResult(ctx, key)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
		return nil
	}
	if cached == nil {
		return nil
	}

	if _, err := os.Stat(cached.ResultPath); err != nil {
		utils.Logger.Info("cached result file missing, recomputing",
			zap.String("cache_key", key),
			zap.String("path", cached.ResultPath))
		if err := h.redisService.DeleteOverlayResult(ctx, key); err != nil {
			utils.Logger.Warn("failed to delete stale cache", zap.Error(err))
		}
		return nil
	}

	utils.Logger.Info("cache hit", zap.String("cache_key", key))
	return cached
}

func (h *TryOnHandler) cacheEnabled() bool {
	return h.cfg.Overlay.CacheResults && h.redisService != nil
}

// writeError 流水线错误返回 400 并附带失败类型，其余按服务端错误处理
func (h *TryOnHandler) writeError(c *gin.Context, err error) {
	if kind, ok := service.KindOf(err); ok {
		utils.Logger.Info("overlay rejected",
			zap.String("error_kind", string(kind)),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success:   false,
			Message:   "叠加失败",
			ErrorKind: string(kind),
			Error:     err.Error(),
		})
		return
	}

	switch {
	case errors.Is(err, service.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
			Success: false,
			Message: "服务繁忙，请稍后再试",
			Error:   err.Error(),
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, model.ErrorResponse{
			Success: false,
			Message: "请求已取消",
			Error:   err.Error(),
		})
	default:
		utils.Logger.Error("failed to process overlay", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "图片处理失败",
			Error:   err.Error(),
		})
	}
}

func (h *TryOnHandler) isAllowedType(contentType string) bool {
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}
