package ImgHandler

import (
	"image"

	"golang.org/x/image/draw"
)

// PreviewSide 预览图长边像素
const PreviewSide = 512

// Thumbnail 按比例缩放到长边不超过 maxSide，原图更小时原样返回
func Thumbnail(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return img
	}

	newW, newH := maxSide, maxSide
	if w >= h {
		newH = h * maxSide / w
	} else {
		newW = w * maxSide / h
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
