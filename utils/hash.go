package utils

import (
	"crypto/md5"
	"encoding/hex"
)

// BytesMD5 计算字节数组MD5
func BytesMD5(data []byte) string {
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}

// OverlayKey 组合用户照片MD5与服装id，作为叠加结果的缓存键
func OverlayKey(userMD5, garmentID string) string {
	return userMD5 + ":" + garmentID
}
