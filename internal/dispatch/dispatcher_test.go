package dispatch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"dresswatch/internal/eventlog"
	"dresswatch/internal/model"
	"dresswatch/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var idPattern = regexp.MustCompile(`^(VIO|DET)\d{6}[A-Z]{4}$`)

type upsert struct {
	collection string
	ev         model.DetectionEvent
}

type fakeRecords struct {
	mu      sync.Mutex
	got     []upsert
	err     error
	entered chan struct{}
	release chan struct{}
}

func (f *fakeRecords) UpsertEvent(_ context.Context, collection string, ev model.DetectionEvent) error {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, upsert{collection: collection, ev: ev})
	return f.err
}

func (f *fakeRecords) all() []upsert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upsert(nil), f.got...)
}

type fakeBlobs struct {
	mu    sync.Mutex
	names []string
	data  [][]byte
	err   error
}

func (f *fakeBlobs) Save(_ context.Context, data []byte, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.names = append(f.names, name)
	f.data = append(f.data, data)
	return "/frames/" + name, nil
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for x := 0; x < 64; x++ {
		for y := 0; y < 64; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: uint8((x * y) % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

var at = time.Date(2025, 3, 3, 9, 15, 42, 0, time.UTC)

func TestNewEventIDFormat(t *testing.T) {
	for i := 0; i < 200; i++ {
		id := NewEventID(model.KindViolation, at)
		require.Regexp(t, idPattern, id)
		assert.Equal(t, "VIO030325", id[:9])
	}
	assert.Equal(t, "DET030325", NewEventID(model.KindNonViolation, at)[:9])
}

func TestConfidencePct(t *testing.T) {
	assert.Equal(t, 80.0, ConfidencePct(0.8))
	assert.Equal(t, 93.46, ConfidencePct(0.934567))
}

func TestDispatchWritesViolation(t *testing.T) {
	records := &fakeRecords{}
	blobs := &fakeBlobs{}
	recent := eventlog.NewStore(10)
	d := New(records, blobs, Options{Workers: 1, Location: time.UTC, Recent: recent})

	ok := d.Submit(model.Confirmation{
		CameraID:   "camera1",
		Class:      8,
		Label:      "cap",
		Kind:       model.KindViolation,
		Confidence: 0.8,
		Frame:      model.Frame{Seq: 60, JPEG: testJPEG(t)},
		At:         at,
	})
	require.True(t, ok)
	require.NoError(t, d.Close(context.Background()))

	got := records.all()
	require.Len(t, got, 1)
	assert.Equal(t, storage.CollectionReview, got[0].collection)
	ev := got[0].ev
	assert.Regexp(t, idPattern, ev.ID)
	assert.Equal(t, "camera1", ev.CameraID)
	assert.Equal(t, "2025-03-03", ev.Date)
	assert.Equal(t, "09:15:42", ev.Time)
	assert.Equal(t, "cap", ev.ClassLabel)
	assert.Equal(t, 80.0, ev.ConfidencePct)
	assert.Equal(t, model.StatusPending, ev.Status)
	assert.Equal(t, "/frames/"+ev.ID+"_091542.jpg", ev.FrameURL)

	require.Len(t, blobs.data, 1)
	_, err := jpeg.Decode(bytes.NewReader(blobs.data[0]))
	assert.NoError(t, err)

	latest, ok := recent.Latest()
	require.True(t, ok)
	assert.Equal(t, ev, latest)
	assert.Equal(t, int64(1), d.Processed())
}

func TestDispatchNonViolationCollection(t *testing.T) {
	records := &fakeRecords{}
	d := New(records, nil, Options{Workers: 1, Location: time.UTC})
	require.True(t, d.Submit(model.Confirmation{CameraID: "camera3", Class: 0, Label: "reg_unif_m", Kind: model.KindNonViolation, Confidence: 0.9, At: at}))
	require.NoError(t, d.Close(context.Background()))

	got := records.all()
	require.Len(t, got, 1)
	assert.Equal(t, storage.CollectionNonViolation, got[0].collection)
	assert.Equal(t, model.StatusDetected, got[0].ev.Status)
	assert.True(t, len(got[0].ev.ID) == 13 && got[0].ev.ID[:3] == "DET")
	assert.Empty(t, got[0].ev.FrameURL)
}

func TestFailuresAreSwallowed(t *testing.T) {
	records := &fakeRecords{err: errors.New("db down")}
	blobs := &fakeBlobs{err: errors.New("disk full")}
	recent := eventlog.NewStore(10)
	d := New(records, blobs, Options{Workers: 1, Location: time.UTC, Recent: recent})
	require.True(t, d.Submit(model.Confirmation{CameraID: "camera1", Class: 9, Label: "shorts", Kind: model.KindViolation, Confidence: 0.75, Frame: model.Frame{JPEG: []byte("not a jpeg")}, At: at}))
	require.NoError(t, d.Close(context.Background()))

	got := records.all()
	require.Len(t, got, 1, "event still written after snapshot failure")
	assert.Empty(t, got[0].ev.FrameURL)
	assert.Equal(t, 1, recent.Len())
}

func TestSubmitDropsWhenFull(t *testing.T) {
	records := &fakeRecords{entered: make(chan struct{}, 4), release: make(chan struct{})}
	d := New(records, nil, Options{Workers: 1, QueueSize: 1, Location: time.UTC})
	c := model.Confirmation{CameraID: "camera1", Class: 8, Kind: model.KindViolation, Confidence: 0.8, At: at}

	require.True(t, d.Submit(c))
	<-records.entered
	require.True(t, d.Submit(c))
	assert.False(t, d.Submit(c))
	assert.Equal(t, int64(1), d.Dropped())
	assert.Equal(t, 1, d.QueueDepth())

	close(records.release)
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, records.all(), 2)
	assert.False(t, d.Submit(c), "closed dispatcher rejects")
}

func TestRecompressLowersQuality(t *testing.T) {
	src := testJPEG(t)
	out, err := Recompress(src, 10)
	require.NoError(t, err)
	assert.Less(t, len(out), len(src))
	_, err = Recompress([]byte("junk"), 60)
	assert.Error(t, err)
}
