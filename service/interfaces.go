package service

import (
	"context"

	"github.com/TIANLI0/OverlayKit/model"
	"gocv.io/x/gocv"
)

// LandmarkProvider 人体关节点检测
type LandmarkProvider interface {
	// Detect 只接受 3 通道 BGR 图像；未检测到人体时返回 (nil, nil)
	Detect(ctx context.Context, img gocv.Mat) (*model.PoseLandmarkSet, error)
	Close() error
}

// BackgroundRemover 去除服装照片背景，返回带 alpha 通道的图像字节
type BackgroundRemover interface {
	Remove(ctx context.Context, data []byte) ([]byte, error)
	Close() error
}
