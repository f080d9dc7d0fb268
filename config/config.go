package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Overlay  OverlayConfig  `mapstructure:"overlay"`
	Models   ModelsConfig   `mapstructure:"models"`
	Garments GarmentsConfig `mapstructure:"garments"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	UploadDir    string   `mapstructure:"upload_dir"`
	AllowedTypes []string `mapstructure:"allowed_types"`
	CleanupFiles bool     `mapstructure:"cleanup_files"`
}

// OverlayConfig 控制叠加流水线的并发与掩码细化参数
type OverlayConfig struct {
	MaxConcurrent   int     `mapstructure:"max_concurrent"`
	QueueTimeout    int     `mapstructure:"queue_timeout"`
	ResultDir       string  `mapstructure:"result_dir"`
	ResultPrefix    string  `mapstructure:"result_prefix"`
	ResultURLPrefix string  `mapstructure:"result_url_prefix"`
	QuadPadding     float64 `mapstructure:"quad_padding"`
	HeadMargin      int     `mapstructure:"head_margin"`
	NeckRadiusRatio float64 `mapstructure:"neck_radius_ratio"`
	HandExclusion   bool    `mapstructure:"hand_exclusion"`
	HandRadiusRatio float64 `mapstructure:"hand_radius_ratio"`
	MorphKernel     int     `mapstructure:"morph_kernel"`
	SeamlessBlend   bool    `mapstructure:"seamless_blend"`
	CacheResults    bool    `mapstructure:"cache_results"`
}

// ModelsConfig 描述姿态检测与背景去除模型
type ModelsConfig struct {
	ORTLibraryPath     string        `mapstructure:"ort_library_path"`
	PoseModel          string        `mapstructure:"pose_model"`
	PoseInputSize      int           `mapstructure:"pose_input_size"`
	PoseInputName      string        `mapstructure:"pose_input_name"`
	PoseLandmarkOutput string        `mapstructure:"pose_landmark_output"`
	PoseFlagOutput     string        `mapstructure:"pose_flag_output"`
	PoseScoreThreshold float64       `mapstructure:"pose_score_threshold"`
	RemoverBackend     string        `mapstructure:"remover_backend"`
	RemoverModel       string        `mapstructure:"remover_model"`
	RemoverInputSize   int           `mapstructure:"remover_input_size"`
	RemoverInputName   string        `mapstructure:"remover_input_name"`
	RemoverOutputName  string        `mapstructure:"remover_output_name"`
	RemoverURL         string        `mapstructure:"remover_url"`
	RemoverTimeout     time.Duration `mapstructure:"remover_timeout"`
	GrabCutIterations  int           `mapstructure:"grabcut_iterations"`
	GrabCutMaxSize     int           `mapstructure:"grabcut_max_size"`
}

// GarmentsConfig 服装目录：id -> 文件名（相对于 Dir）
type GarmentsConfig struct {
	Dir   string            `mapstructure:"dir"`
	Items map[string]string `mapstructure:"items"`
}

// Path 解析服装 id 对应的资源路径
func (g GarmentsConfig) Path(id string) (string, bool) {
	name, ok := g.Items[id]
	if !ok || name == "" {
		return "", false
	}
	return filepath.Join(g.Dir, filepath.Base(name)), true
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		return getDefaultConfig()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	d := getDefaultConfig()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.upload_dir", d.Upload.UploadDir)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)
	v.SetDefault("upload.cleanup_files", d.Upload.CleanupFiles)

	v.SetDefault("overlay.max_concurrent", d.Overlay.MaxConcurrent)
	v.SetDefault("overlay.queue_timeout", d.Overlay.QueueTimeout)
	v.SetDefault("overlay.result_dir", d.Overlay.ResultDir)
	v.SetDefault("overlay.result_prefix", d.Overlay.ResultPrefix)
	v.SetDefault("overlay.result_url_prefix", d.Overlay.ResultURLPrefix)
	v.SetDefault("overlay.quad_padding", d.Overlay.QuadPadding)
	v.SetDefault("overlay.head_margin", d.Overlay.HeadMargin)
	v.SetDefault("overlay.neck_radius_ratio", d.Overlay.NeckRadiusRatio)
	v.SetDefault("overlay.hand_exclusion", d.Overlay.HandExclusion)
	v.SetDefault("overlay.hand_radius_ratio", d.Overlay.HandRadiusRatio)
	v.SetDefault("overlay.morph_kernel", d.Overlay.MorphKernel)
	v.SetDefault("overlay.seamless_blend", d.Overlay.SeamlessBlend)
	v.SetDefault("overlay.cache_results", d.Overlay.CacheResults)

	v.SetDefault("models.ort_library_path", d.Models.ORTLibraryPath)
	v.SetDefault("models.pose_model", d.Models.PoseModel)
	v.SetDefault("models.pose_input_size", d.Models.PoseInputSize)
	v.SetDefault("models.pose_input_name", d.Models.PoseInputName)
	v.SetDefault("models.pose_landmark_output", d.Models.PoseLandmarkOutput)
	v.SetDefault("models.pose_flag_output", d.Models.PoseFlagOutput)
	v.SetDefault("models.pose_score_threshold", d.Models.PoseScoreThreshold)
	v.SetDefault("models.remover_backend", d.Models.RemoverBackend)
	v.SetDefault("models.remover_model", d.Models.RemoverModel)
	v.SetDefault("models.remover_input_size", d.Models.RemoverInputSize)
	v.SetDefault("models.remover_input_name", d.Models.RemoverInputName)
	v.SetDefault("models.remover_output_name", d.Models.RemoverOutputName)
	v.SetDefault("models.remover_url", d.Models.RemoverURL)
	v.SetDefault("models.remover_timeout", d.Models.RemoverTimeout)
	v.SetDefault("models.grabcut_iterations", d.Models.GrabCutIterations)
	v.SetDefault("models.grabcut_max_size", d.Models.GrabCutMaxSize)

	v.SetDefault("garments.dir", d.Garments.Dir)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			UploadDir:    "./uploads",
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg", "image/webp"},
			CleanupFiles: true,
		},
		Overlay: OverlayConfig{
			MaxConcurrent:   0,
			QueueTimeout:    30,
			ResultDir:       "./results",
			ResultPrefix:    "result_",
			ResultURLPrefix: "/results/",
			QuadPadding:     0,
			HeadMargin:      10,
			NeckRadiusRatio: 0.2,
			HandExclusion:   true,
			HandRadiusRatio: 0.05,
			MorphKernel:     0,
			SeamlessBlend:   true,
			CacheResults:    true,
		},
		Models: ModelsConfig{
			ORTLibraryPath:     "lib/libonnxruntime.so",
			PoseModel:          "models/pose_landmark_full.onnx",
			PoseInputSize:      256,
			PoseInputName:      "input_1",
			PoseLandmarkOutput: "Identity",
			PoseFlagOutput:     "Identity_1",
			PoseScoreThreshold: 0.5,
			RemoverBackend:     "onnx",
			RemoverModel:       "models/u2net.onnx",
			RemoverInputSize:   320,
			RemoverInputName:   "input.1",
			RemoverOutputName:  "1959",
			RemoverURL:         "http://localhost:7000/api/remove",
			RemoverTimeout:     60 * time.Second,
			GrabCutIterations:  5,
			GrabCutMaxSize:     1200,
		},
		Garments: GarmentsConfig{
			Dir:   "./static/garments",
			Items: map[string]string{},
		},
	}
}
