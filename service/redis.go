package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/TIANLI0/OverlayKit/config"
	"github.com/TIANLI0/OverlayKit/model"
	"github.com/TIANLI0/OverlayKit/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const overlayKeyPrefix = "overlay:"

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetOverlayResult 从缓存获取叠加结果，未命中时返回 (nil, nil)
func (s *RedisService) GetOverlayResult(ctx context.Context, key string) (*model.OverlayResult, error) {
	data, err := s.client.Get(ctx, overlayKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var cached cachedOverlay
	if err := json.Unmarshal(data, &cached); err != nil {
		utils.Logger.Error("failed to unmarshal overlay result",
			zap.String("key", key), zap.Error(err))
		return nil, err
	}

	result := cached.OverlayResult
	result.ResultPath = cached.Path
	return &result, nil
}

// SetOverlayResult 写入叠加结果；ResultPath 不参与 JSON，需单独保存
func (s *RedisService) SetOverlayResult(ctx context.Context, key string, result *model.OverlayResult) error {
	data, err := json.Marshal(cachedOverlay{OverlayResult: *result, Path: result.ResultPath})
	if err != nil {
		return err
	}

	return s.client.Set(ctx, overlayKeyPrefix+key, data, s.ttl).Err()
}

// DeleteOverlayResult 结果文件丢失时清理缓存
func (s *RedisService) DeleteOverlayResult(ctx context.Context, key string) error {
	return s.client.Del(ctx, overlayKeyPrefix+key).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

type cachedOverlay struct {
	model.OverlayResult
	Path string `json:"result_path"`
}
