package utils

import (
	"github.com/google/uuid"
)

// GenerateID 生成上传文件命名用的随机ID，同一时刻的并发上传也不会重名
func GenerateID() string {
	return uuid.NewString()
}

// NewRequestID 生成请求追踪ID
func NewRequestID() string {
	return uuid.NewString()
}
