package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dresswatch/internal/model"
)

const DirScheme = "dir:"

// ImageDir replays the JPEG files of a directory in name order.
type ImageDir struct {
	ctx   context.Context
	files []string
	pos   int
	seq   int64
	pacer *Pacer
}

func OpenImageDir(ctx context.Context, dir string, fps float64) (*ImageDir, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no jpeg files in %s", dir)
	}
	sort.Strings(files)
	return &ImageDir{ctx: ctx, files: files, pacer: NewPacer(fps)}, nil
}

func (d *ImageDir) Read() (model.Frame, bool) {
	for d.pos < len(d.files) {
		if !d.pacer.Wait(d.ctx) {
			return model.Frame{}, false
		}
		path := d.files[d.pos]
		d.pos++
		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			continue
		}
		d.seq++
		return model.Frame{Seq: d.seq, CapturedAt: time.Now(), JPEG: data}, true
	}
	return model.Frame{}, false
}

func (d *ImageDir) Rewind() error {
	d.pos = 0
	d.pacer.Reset()
	return nil
}

func (d *ImageDir) Close() error {
	return nil
}
