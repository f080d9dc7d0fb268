package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TIANLI0/OverlayKit/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type overlayFixture struct {
	svc      *OverlayService
	detector *fakeDetector
	remover  *fakeRemover
	req      OverlayRequest
}

func newOverlayFixture(t *testing.T) *overlayFixture {
	t.Helper()
	detector := newFakeDetector()
	remover := &fakeRemover{out: garmentPNG(t, blueBGR)}

	return &overlayFixture{
		svc:      NewOverlayService(testOverlayConfig(t), detector, remover),
		detector: detector,
		remover:  remover,
		req: OverlayRequest{
			RequestID:   "req-1",
			UserImage:   userPNG(t),
			UploadName:  "user.png",
			GarmentID:   "tee01",
			GarmentPath: garmentFile(t),
		},
	}
}

func requireKind(t *testing.T, err error, want ErrorKind) {
	t.Helper()
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok, "expected an overlay error, got %v", err)
	assert.Equal(t, want, kind)
}

func TestRenderSuccess(t *testing.T) {
	f := newOverlayFixture(t)

	out, stats, err := f.svc.Render(context.Background(), f.req)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, userWidth, out.Cols())
	assert.Equal(t, userHeight, out.Rows())
	assert.Equal(t, gocv.MatTypeCV8UC3, out.Type())
	assert.Equal(t, BlendSeamless, stats.BlendMode)
	assert.False(t, stats.GarmentBox.Empty())

	// torso correspondence: garment shoulders land on the user's shoulders
	ls := stats.Homography.Apply(stats.GarmentQuad.LeftShoulder)
	assert.InDelta(t, 300, ls.X, 1e-6)
	assert.InDelta(t, 150, ls.Y, 1e-6)

	// garment box stays inside the user's torso neighbourhood
	assert.GreaterOrEqual(t, stats.GarmentBox.Min.X, 250)
	assert.LessOrEqual(t, stats.GarmentBox.Max.X, 550)

	// far from the torso the photo is untouched
	assert.Equal(t, [3]uint8{128, 128, 128}, bgrAt(out, 5, 5))
	assert.Equal(t, [3]uint8{128, 128, 128}, bgrAt(out, 790, 590))

	assert.Equal(t, 2, f.detector.calls)
}

func TestRenderDeterministic(t *testing.T) {
	f := newOverlayFixture(t)

	first, _, err := f.svc.Render(context.Background(), f.req)
	require.NoError(t, err)
	defer first.Close()

	second, _, err := f.svc.Render(context.Background(), f.req)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, first.ToBytes(), second.ToBytes())
}

func TestRenderDecodeFailure(t *testing.T) {
	f := newOverlayFixture(t)
	f.req.UserImage = []byte("definitely not an image")

	out, _, err := f.svc.Render(context.Background(), f.req)
	requireKind(t, err, KindDecodeFailure)
	assert.Equal(t, gocv.Mat{}, out)
	assert.Zero(t, f.detector.calls)
}

func TestRenderUserPoseNotFound(t *testing.T) {
	f := newOverlayFixture(t)
	delete(f.detector.byWidth, userWidth)

	out, _, err := f.svc.Render(context.Background(), f.req)
	requireKind(t, err, KindUserPoseNotFound)
	assert.Equal(t, gocv.Mat{}, out)
}

func TestRenderDetectorError(t *testing.T) {
	f := newOverlayFixture(t)
	f.detector.err = errors.New("inference crashed")

	_, _, err := f.svc.Render(context.Background(), f.req)
	requireKind(t, err, KindUserPoseNotFound)
	assert.ErrorContains(t, err, "inference crashed")
}

func TestRenderGarmentPoseNotFound(t *testing.T) {
	f := newOverlayFixture(t)
	delete(f.detector.byWidth, garmentWidth)

	_, _, err := f.svc.Render(context.Background(), f.req)
	requireKind(t, err, KindGarmentPoseNotFound)
}

func TestRenderBackgroundRemovalFailure(t *testing.T) {
	f := newOverlayFixture(t)
	f.remover.err = errors.New("remover offline")

	_, _, err := f.svc.Render(context.Background(), f.req)
	requireKind(t, err, KindBackgroundRemovalFailure)
}

func TestRenderRemoverWithoutAlpha(t *testing.T) {
	f := newOverlayFixture(t)
	jpg, err := encodeImage(".jpg", solid(t, garmentWidth, garmentHeight, blueBGR))
	require.NoError(t, err)
	f.remover.out = jpg

	_, _, err = f.svc.Render(context.Background(), f.req)
	requireKind(t, err, KindBackgroundRemovalFailure)
}

func TestRenderEmptyGarmentMask(t *testing.T) {
	f := newOverlayFixture(t)
	f.remover.out = garmentPNG(t, skinBGR)

	_, _, err := f.svc.Render(context.Background(), f.req)
	requireKind(t, err, KindEmptyGarmentMask)
}

func TestRenderDegenerateGeometry(t *testing.T) {
	f := newOverlayFixture(t)
	f.detector.byWidth[userWidth] = torsoLandmarks(userWidth, userHeight,
		model.Point{X: 300, Y: 300}, model.Point{X: 400, Y: 300},
		model.Point{X: 500, Y: 300}, model.Point{X: 600, Y: 300})

	_, _, err := f.svc.Render(context.Background(), f.req)
	requireKind(t, err, KindDegenerateGeometry)
	assert.ErrorIs(t, err, model.ErrDegenerateQuad)
}

func TestRenderGarmentOutsideFrame(t *testing.T) {
	f := newOverlayFixture(t)
	f.detector.byWidth[userWidth] = torsoLandmarks(userWidth, userHeight,
		model.Point{X: 2000, Y: 1500}, model.Point{X: 2200, Y: 1500},
		model.Point{X: 2190, Y: 1750}, model.Point{X: 2010, Y: 1750})

	out, _, err := f.svc.Render(context.Background(), f.req)
	requireKind(t, err, KindCompositeFailure)
	assert.Equal(t, gocv.Mat{}, out)
}

func TestRenderMissingGarmentAsset(t *testing.T) {
	f := newOverlayFixture(t)
	f.req.GarmentPath = filepath.Join(t.TempDir(), "missing.png")

	_, _, err := f.svc.Render(context.Background(), f.req)
	require.Error(t, err)
	_, ok := KindOf(err)
	assert.False(t, ok)
}

func TestProcessPersistsResult(t *testing.T) {
	f := newOverlayFixture(t)

	result, err := f.svc.Process(context.Background(), f.req)
	require.NoError(t, err)

	assert.Equal(t, "req-1", result.RequestID)
	assert.Equal(t, "tee01", result.GarmentID)
	assert.Equal(t, "/results/result_user.png", result.ResultURL)
	assert.Equal(t, userWidth, result.Width)
	assert.Equal(t, userHeight, result.Height)
	assert.Equal(t, string(BlendSeamless), result.BlendMode)
	assert.Len(t, result.UserMD5, 32)

	data, err := os.ReadFile(result.ResultPath)
	require.NoError(t, err)

	img, err := decodeBGR(data)
	require.NoError(t, err)
	defer img.Close()
	assert.Equal(t, userWidth, img.Cols())
	assert.Equal(t, userHeight, img.Rows())
}

func TestProcessFailureLeavesNoFile(t *testing.T) {
	f := newOverlayFixture(t)
	delete(f.detector.byWidth, garmentWidth)

	_, err := f.svc.Process(context.Background(), f.req)
	requireKind(t, err, KindGarmentPoseNotFound)

	entries, err := os.ReadDir(f.svc.resultDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessQueueFull(t *testing.T) {
	cfg := testOverlayConfig(t)
	cfg.MaxConcurrent = 1
	cfg.QueueTimeout = 0
	svc := NewOverlayService(cfg, newFakeDetector(), &fakeRemover{})

	svc.semaphore <- struct{}{}
	defer func() { <-svc.semaphore }()

	_, err := svc.Process(context.Background(), OverlayRequest{UserImage: userPNG(t)})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestProcessCanceled(t *testing.T) {
	f := newOverlayFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Process(ctx, f.req)
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(f.svc.resultDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessZeroQueueTimeoutUsesFreeSlot(t *testing.T) {
	cfg := testOverlayConfig(t)
	cfg.MaxConcurrent = 1
	cfg.QueueTimeout = 0
	svc := NewOverlayService(cfg, newFakeDetector(), &fakeRemover{})

	// 槽位空闲时不应因超时为 0 而拒绝
	for i := 0; i < 20; i++ {
		_, err := svc.Process(context.Background(), OverlayRequest{UserImage: []byte("not an image")})
		requireKind(t, err, KindDecodeFailure)
	}
	assert.Empty(t, svc.semaphore)
}

func TestProcessConcurrencyBounded(t *testing.T) {
	const workers = 8

	cfg := testOverlayConfig(t)
	cfg.MaxConcurrent = 2
	cfg.QueueTimeout = 30
	detector := newFakeDetector()
	detector.delay = 20 * time.Millisecond
	svc := NewOverlayService(cfg, detector, &fakeRemover{out: garmentPNG(t, blueBGR)})

	user := userPNG(t)
	garment := garmentFile(t)

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Process(context.Background(), OverlayRequest{
				RequestID:   fmt.Sprintf("req-%d", i),
				UserImage:   user,
				UploadName:  fmt.Sprintf("user%d.png", i),
				GarmentID:   "tee01",
				GarmentPath: garment,
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
	peak := detector.maxInFlight.Load()
	assert.LessOrEqual(t, peak, int32(2))
	assert.GreaterOrEqual(t, peak, int32(1))
	assert.Equal(t, 2*workers, detector.calls)

	entries, err := os.ReadDir(cfg.ResultDir)
	require.NoError(t, err)
	assert.Len(t, entries, workers)
	assert.Empty(t, svc.semaphore)
}
