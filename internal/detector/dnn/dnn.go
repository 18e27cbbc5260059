// Package dnn runs a darknet YOLO model in-process through OpenCV's dnn module.
package dnn

import (
	"context"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"dresswatch/internal/config"
	"dresswatch/internal/model"
)

const defaultInputSize = 416

// Detector wraps one gocv.Net. Net is not safe for concurrent use, so calls are serialized.
type Detector struct {
	mu   sync.Mutex
	net  gocv.Net
	size int
}

func New(cfg config.DetectorConfig) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file: %w", err)
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return nil, fmt.Errorf("model config file: %w", err)
		}
	}
	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network %s", cfg.ModelPath)
	}
	backend, target := gocv.NetBackendDefault, gocv.NetTargetCPU
	if strings.EqualFold(cfg.Backend, "cuda") {
		backend, target = gocv.NetBackendCUDA, gocv.NetTargetCUDA
	}
	if err := net.SetPreferableBackend(backend); err != nil {
		net.Close()
		return nil, fmt.Errorf("set backend: %w", err)
	}
	if err := net.SetPreferableTarget(target); err != nil {
		net.Close()
		return nil, fmt.Errorf("set target: %w", err)
	}
	size := cfg.InputSize
	if size <= 0 {
		size = defaultInputSize
	}
	return &Detector{net: net, size: size}, nil
}

// Detect returns one detection per output row whose best allowed class clears minConfidence.
// Rows carry cx, cy, w, h (normalized), objectness, then one score per class.
func (d *Detector) Detect(ctx context.Context, frame model.Frame, allowed []model.ClassID, minConfidence float64) ([]model.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(allowed) == 0 {
		return nil, nil
	}
	mat, err := gocv.IMDecode(frame.JPEG, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, fmt.Errorf("decoded frame is empty")
	}

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(d.size, d.size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	d.mu.Unlock()
	defer output.Close()

	rows := output
	if dims := output.Size(); len(dims) == 3 {
		rows = output.Reshape(1, dims[1])
		defer rows.Close()
	}

	width, height := float32(mat.Cols()), float32(mat.Rows())
	var out []model.Detection
	for i := 0; i < rows.Rows(); i++ {
		best, bestScore := model.ClassID(-1), float32(0)
		for _, class := range allowed {
			col := 5 + int(class)
			if col >= rows.Cols() {
				continue
			}
			if s := rows.GetFloatAt(i, col); s > bestScore {
				best, bestScore = class, s
			}
		}
		if best < 0 || float64(bestScore) < minConfidence {
			continue
		}
		cx := rows.GetFloatAt(i, 0) * width
		cy := rows.GetFloatAt(i, 1) * height
		w := rows.GetFloatAt(i, 2) * width
		h := rows.GetFloatAt(i, 3) * height
		out = append(out, model.Detection{
			Class:      best,
			Confidence: float64(bestScore),
			Box:        model.Box{X: int(cx - w/2), Y: int(cy - h/2), Width: int(w), Height: int(h)},
		})
	}
	return out, nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
