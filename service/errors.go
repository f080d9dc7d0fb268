package service

import (
	"errors"
	"fmt"
)

// ErrorKind 叠加流水线的失败类型，全部属于客户端可纠正的输入问题
type ErrorKind string

const (
	KindDecodeFailure            ErrorKind = "decode_failure"
	KindUserPoseNotFound         ErrorKind = "user_pose_not_found"
	KindGarmentPoseNotFound      ErrorKind = "garment_pose_not_found"
	KindBackgroundRemovalFailure ErrorKind = "background_removal_failure"
	KindDegenerateGeometry       ErrorKind = "degenerate_geometry"
	KindEmptyGarmentMask         ErrorKind = "empty_garment_mask"
	KindCompositeFailure         ErrorKind = "composite_failure"
)

var (
	// ErrQueueFull 等待处理槽位超时
	ErrQueueFull = errors.New("overlay queue is full")
	// ErrUnknownGarment 服装id不在目录中
	ErrUnknownGarment = errors.New("unknown garment")
	// ErrEmptyComposite 合成时掩码没有任何不透明像素
	ErrEmptyComposite = errors.New("mask has no opaque pixels")
)

// OverlayError 某一阶段的终止性失败
type OverlayError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *OverlayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *OverlayError) Unwrap() error {
	return e.Err
}

func newOverlayError(kind ErrorKind, message string, err error) *OverlayError {
	return &OverlayError{Kind: kind, Message: message, Err: err}
}

// KindOf 提取错误链中的失败类型
func KindOf(err error) (ErrorKind, bool) {
	var oe *OverlayError
	if errors.As(err, &oe) {
		return oe.Kind, true
	}
	return "", false
}
