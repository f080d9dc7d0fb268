package service

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/webp"
)

// decodeBGR 解码为 3 通道 BGR；OpenCV 未编译对应解码器时退回 Go 解码。
// 本文件的函数出错时返回零值 Mat，不持有原生内存
func decodeBGR(data []byte) (gocv.Mat, error) {
	return decode(data, gocv.IMReadColor, false)
}

// decodeBGRA 解码为 4 通道 BGRA，图像不带 alpha 时返回错误
func decodeBGRA(data []byte) (gocv.Mat, error) {
	mat, err := decode(data, gocv.IMReadUnchanged, true)
	if err != nil {
		return mat, err
	}
	if mat.Type() != gocv.MatTypeCV8UC4 {
		mat.Close()
		return gocv.Mat{}, fmt.Errorf("expected 8-bit image with alpha channel, got %d channels", mat.Channels())
	}
	return mat, nil
}

func decode(data []byte, flags gocv.IMReadFlag, withAlpha bool) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.Mat{}, fmt.Errorf("image data is empty")
	}

	if mat, err := gocv.IMDecode(data, flags); err == nil {
		if !mat.Empty() {
			return mat, nil
		}
		mat.Close()
	}

	img, _, derr := image.Decode(bytes.NewReader(data))
	if derr != nil {
		return gocv.Mat{}, fmt.Errorf("failed to decode image: %w", derr)
	}
	return imageToMat(img, withAlpha)
}

// imageToMat 将 image.Image 转换为 BGR/BGRA Mat
func imageToMat(img image.Image, withAlpha bool) (gocv.Mat, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return gocv.Mat{}, fmt.Errorf("image has zero size")
	}

	nrgba := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)

	ch := 3
	mt := gocv.MatTypeCV8UC3
	if withAlpha {
		ch = 4
		mt = gocv.MatTypeCV8UC4
	}

	buf := make([]byte, w*h*ch)
	for i := 0; i < w*h; i++ {
		src := nrgba.Pix[i*4 : i*4+4]
		dst := buf[i*ch : i*ch+ch]
		dst[0], dst[1], dst[2] = src[2], src[1], src[0]
		if withAlpha {
			dst[3] = src[3]
		}
	}

	return gocv.NewMatFromBytes(h, w, mt, buf)
}

// encodeImage 按扩展名编码
func encodeImage(ext string, mat gocv.Mat) ([]byte, error) {
	ext = strings.ToLower(ext)
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	buf, err := gocv.IMEncode(gocv.FileExt(ext), mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", ext, err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// encodeForName 按目标文件名的扩展名编码
func encodeForName(name string, mat gocv.Mat) ([]byte, error) {
	return encodeImage(filepath.Ext(name), mat)
}
