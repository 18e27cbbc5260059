// Package video decodes camera sources with OpenCV.
package video

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	"gocv.io/x/gocv"

	"dresswatch/internal/config"
	"dresswatch/internal/engine"
	"dresswatch/internal/ingest"
	"dresswatch/internal/model"
)

const (
	jpegQuality   = 85
	defaultWidth  = 854
	defaultHeight = 480
)

// Capture reads frames from a video file or stream URL, resized and JPEG encoded.
type Capture struct {
	ctx    context.Context
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	size   image.Point
	pacer  *ingest.Pacer
	seq    int64
	misses int
}

func Open(ctx context.Context, cam config.CameraConfig) (engine.Source, error) {
	if strings.HasPrefix(cam.Source, ingest.DirScheme) {
		fps := 0.0
		if cam.Realtime {
			fps = 10
		}
		dir, err := ingest.OpenImageDir(ctx, strings.TrimPrefix(cam.Source, ingest.DirScheme), fps)
		if err != nil {
			return nil, err
		}
		return dir, nil
	}
	vc, err := gocv.VideoCaptureFile(cam.Source)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cam.Source, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open %s: capture not opened", cam.Source)
	}
	c := &Capture{
		ctx:  ctx,
		vc:   vc,
		mat:  gocv.NewMat(),
		size: image.Pt(cam.Width, cam.Height),
	}
	if c.size.X <= 0 || c.size.Y <= 0 {
		c.size = image.Pt(defaultWidth, defaultHeight)
	}
	if cam.Realtime {
		c.pacer = ingest.NewPacer(vc.Get(gocv.VideoCaptureFPS))
	}
	return c, nil
}

func (c *Capture) Read() (model.Frame, bool) {
	for {
		if !c.pacer.Wait(c.ctx) {
			return model.Frame{}, false
		}
		if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
			// Live streams return empty reads on hiccups; a file returns them once at the end.
			c.misses++
			if c.misses > 3 {
				c.misses = 0
				return model.Frame{}, false
			}
			continue
		}
		c.misses = 0
		data, err := c.encode()
		if err != nil {
			continue
		}
		c.seq++
		return model.Frame{Seq: c.seq, CapturedAt: time.Now(), JPEG: data}, true
	}
}

func (c *Capture) encode() ([]byte, error) {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(c.mat, &resized, c.size, 0, 0, gocv.InterpolationLinear)
	return encodeJPEG(resized)
}

func (c *Capture) Rewind() error {
	c.vc.Set(gocv.VideoCapturePosFrames, 0)
	c.pacer.Reset()
	return nil
}

func (c *Capture) Close() error {
	c.mat.Close()
	return c.vc.Close()
}

// Placeholder renders a dark frame carrying msg, shown in place of an unavailable camera.
func Placeholder(msg string) []byte {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(32, 32, 32, 0), defaultHeight, defaultWidth, gocv.MatTypeCV8UC3)
	defer mat.Close()
	gocv.PutText(&mat, msg, image.Pt(40, defaultHeight/2), gocv.FontHersheySimplex, 1.0, color.RGBA{R: 255, G: 255, B: 255, A: 0}, 2)
	data, err := encodeJPEG(mat)
	if err != nil {
		return nil
	}
	return data
}

func encodeJPEG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, jpegQuality})
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
