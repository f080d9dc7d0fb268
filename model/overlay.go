package model

// OverlayResult 叠加结果
type OverlayResult struct {
	RequestID  string `json:"request_id"`
	UserMD5    string `json:"user_md5"`
	GarmentID  string `json:"garment_id"`
	ResultPath string `json:"-"`
	ResultURL  string `json:"result_url"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	BlendMode  string `json:"blend_mode"`
	GarmentBox BBox   `json:"garment_box"`
	DurationMS int64  `json:"duration_ms"`
	Timestamp  int64  `json:"timestamp"`
	Cached     bool   `json:"cached"`
}

// BBox 边界框
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TryOnResponse 试穿响应
type TryOnResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    *OverlayResult `json:"data,omitempty"`
}

// GarmentListResponse 服装目录响应
type GarmentListResponse struct {
	Success  bool     `json:"success"`
	Garments []string `json:"garments"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}
