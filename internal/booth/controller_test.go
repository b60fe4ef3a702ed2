package booth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cheesebooth/internal/audio"
	"cheesebooth/internal/camera"
	"cheesebooth/internal/clock"
	"cheesebooth/internal/config"
	"cheesebooth/internal/preview"
	"cheesebooth/internal/stream"
	"cheesebooth/internal/trigger"
)

// scriptedSource は用意したブロックを順に返し、尽きたら io.EOF を返す
type scriptedSource struct {
	blocks  []audio.Block
	actions map[int]func()
	err     error
	calls   int
}

func newScriptedSource(n int) *scriptedSource {
	blocks := make([]audio.Block, n)
	for i := range blocks {
		blocks[i] = audio.Block{Samples: make([]int16, 160), SampleRate: 16000}
	}
	return &scriptedSource{blocks: blocks, actions: map[int]func(){}}
}

func (s *scriptedSource) Next(ctx context.Context) (audio.Block, error) {
	if err := ctx.Err(); err != nil {
		return audio.Block{}, err
	}

	i := s.calls
	s.calls++
	if action := s.actions[i]; action != nil {
		action()
	}

	if i >= len(s.blocks) {
		if s.err != nil {
			return audio.Block{}, s.err
		}
		return audio.Block{}, io.EOF
	}

	block := s.blocks[i]
	if block.Captured.IsZero() {
		block.Captured = time.Now()
	}
	return block, nil
}

func (s *scriptedSource) SampleRate() int { return 16000 }
func (s *scriptedSource) Close() error    { return nil }

type fakeFrames struct {
	frame  camera.Frame
	closed int
}

func (f *fakeFrames) Next() (camera.Frame, bool) { return f.frame, len(f.frame.JPEG) > 0 }
func (f *fakeFrames) Close() error {
	f.closed++
	return nil
}

// fakeStream は RestartWithRetry の呼び出し時に撮影中でないことを確認する
type fakeStream struct {
	ctrl       *Controller
	failures   int
	restarts   int
	stops      int
	frames     *fakeFrames
	violations []string
}

func (s *fakeStream) RestartWithRetry(_ context.Context, maxAttempts int, _ time.Duration) (*stream.Handle, camera.FrameSource, error) {
	s.restarts++
	if s.ctrl != nil && s.ctrl.Snapshot().CaptureInFlight {
		s.violations = append(s.violations, "撮影中にフィードを起動しました")
	}
	if s.restarts <= s.failures {
		return nil, nil, fmt.Errorf("%w: %d回試行しました", stream.ErrStreamNotReady, maxAttempts)
	}
	return new(stream.Handle), s.frames, nil
}

func (s *fakeStream) Stop(handle *stream.Handle) error {
	if handle != nil {
		s.stops++
	}
	return nil
}

type recordingScreen struct {
	*preview.Loop
	statuses []string
	images   []string
}

func (s *recordingScreen) ShowStatus(text string) {
	s.statuses = append(s.statuses, text)
	s.Loop.ShowStatus(text)
}

func (s *recordingScreen) ShowImage(path string) bool {
	s.images = append(s.images, path)
	return s.Loop.ShowImage(path)
}

type fakeNotifier struct {
	saved, failed, degraded, recovered, breaker int
}

func (n *fakeNotifier) PhotoSaved(string)    { n.saved++ }
func (n *fakeNotifier) CaptureFailed(int)    { n.failed++ }
func (n *fakeNotifier) StreamDegraded(error) { n.degraded++ }
func (n *fakeNotifier) StreamRecovered()     { n.recovered++ }
func (n *fakeNotifier) BreakerOpened(uint32) { n.breaker++ }

type transition struct {
	from, to State
}

type harness struct {
	ctrl        *Controller
	cfg         *config.Config
	source      *scriptedSource
	recognizer  *trigger.MockRecognizer
	stream      *fakeStream
	screen      *recordingScreen
	notifier    *fakeNotifier
	runner      *camera.MockRunner
	sleeps      *clock.Recorder
	transitions []transition
	violations  []string
}

type harnessOptions struct {
	blocks         int
	utterances     []string
	captureFails   bool
	streamFailures int
	maxFailures    int
	webcam         bool
	driver         camera.Driver
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 32, 18))
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode failed: %v", err)
	}
	return buf.Bytes()
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.PhotoDir = filepath.Join(t.TempDir(), "photos")
	if opts.maxFailures > 0 {
		cfg.Booth.MaxConsecutiveFailures = opts.maxFailures
	}

	photo := testJPEG(t)
	runner := camera.NewMockRunner(func(call camera.Call) ([]byte, error) {
		if len(call.Args) == 0 || call.Args[0] != "--capture-image-and-download" {
			return nil, nil
		}
		if opts.captureFails {
			return nil, errors.New("*** Error: Could not capture image")
		}
		path := strings.TrimPrefix(call.Args[1], "--filename=")
		return nil, os.WriteFile(path, photo, 0o644)
	})

	driver := opts.driver
	if driver == nil {
		driver = camera.NewGPhotoDriver(runner, camera.Port{}, camera.DefaultSettings(), 0)
	}

	renderer, err := preview.NewRenderer(64, 36, color.White)
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}

	h := &harness{
		cfg:        cfg,
		source:     newScriptedSource(opts.blocks),
		recognizer: trigger.NewMockRecognizer(1, opts.utterances...),
		stream:     &fakeStream{failures: opts.streamFailures, frames: &fakeFrames{}},
		screen:     &recordingScreen{Loop: preview.NewLoop(preview.NewRecordingDisplay(), renderer)},
		notifier:   &fakeNotifier{},
		runner:     runner,
		sleeps:     &clock.Recorder{},
	}
	if opts.webcam {
		h.stream.frames.frame = camera.Frame{JPEG: photo, CapturedAt: time.Now()}
	}

	h.ctrl = New(cfg, Dependencies{
		Source:   h.source,
		Detector: trigger.NewDetector(h.recognizer, trigger.NewSet(cfg.Trigger.Phrases...)),
		Driver:   driver,
		Stream:   h.stream,
		Screen:   h.screen,
		Notifier: h.notifier,
	})
	h.ctrl.sleep = h.sleeps.Sleep
	h.stream.ctrl = h.ctrl

	h.ctrl.OnTransition(func(from, to State) {
		h.transitions = append(h.transitions, transition{from, to})
		if to == StateCapturing && h.ctrl.Snapshot().StreamLive {
			h.violations = append(h.violations, "フィードが生きたまま撮影に入りました")
		}
	})

	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	h.checkInvariants(t)
}

func (h *harness) checkInvariants(t *testing.T) {
	t.Helper()
	for _, v := range append(h.violations, h.stream.violations...) {
		t.Errorf("Invariant violated: %s", v)
	}
}

func (h *harness) states() []State {
	out := make([]State, 0, len(h.transitions))
	for _, tr := range h.transitions {
		out = append(out, tr.to)
	}
	return out
}

func (h *harness) photos(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.cfg.PhotoDir)
	if err != nil {
		t.Fatalf("Failed to read photo dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func captureCalls(runner *camera.MockRunner) int {
	n := 0
	for _, call := range runner.Calls() {
		if len(call.Args) > 0 && call.Args[0] == "--capture-image-and-download" {
			n++
		}
	}
	return n
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestController_CueTriggersCapture(t *testing.T) {
	h := newHarness(t, harnessOptions{blocks: 3, utterances: []string{"say cheese please"}})

	h.run(t)

	want := []State{StatePreparing, StateCapturing, StateReviewing, StateRestartingStream, StateAwaitingCue, StateStopped}
	if !equalStates(h.states(), want) {
		t.Errorf("Unexpected transitions: %v, want %v", h.states(), want)
	}
	if h.transitions[0].from != StateIdle {
		t.Errorf("Expected first cycle to start from idle, got %s", h.transitions[0].from)
	}

	photos := h.photos(t)
	if len(photos) != 1 {
		t.Fatalf("Expected exactly one photo, got %v", photos)
	}
	if !strings.HasPrefix(photos[0], "cheese_") || !strings.HasSuffix(photos[0], ".jpg") {
		t.Errorf("Unexpected photo name: %s", photos[0])
	}

	wantStatuses := []string{statusReady, statusHold, statusCheese, statusWait}
	if strings.Join(h.screen.statuses, "|") != strings.Join(wantStatuses, "|") {
		t.Errorf("Unexpected statuses: %v", h.screen.statuses)
	}

	// READY 800ms, DON'T MOVE 400ms, 400ms, CHEESE 2200ms, 確認 2200ms
	wantSleeps := []time.Duration{800 * time.Millisecond, 400 * time.Millisecond, 400 * time.Millisecond, 2200 * time.Millisecond, 2200 * time.Millisecond}
	if fmt.Sprint(h.sleeps.Durations) != fmt.Sprint(wantSleeps) {
		t.Errorf("Unexpected dwells: %v", h.sleeps.Durations)
	}

	snap := h.ctrl.Snapshot()
	if snap.Cycles != 1 || snap.Photos != 1 || snap.Failures != 0 {
		t.Errorf("Unexpected counters: %+v", snap)
	}
	if snap.LastCycle == nil || !snap.LastCycle.Success || snap.LastCycle.Attempts != 1 || snap.LastCycle.ID == "" {
		t.Errorf("Unexpected last cycle: %+v", snap.LastCycle)
	}
	if snap.State != "stopped" || snap.StreamLive {
		t.Errorf("Expected stopped without stream, got %+v", snap)
	}
	if h.notifier.saved != 1 {
		t.Errorf("Expected 1 saved notification, got %d", h.notifier.saved)
	}
}

func TestController_DeliberateOverMatch(t *testing.T) {
	h := newHarness(t, harnessOptions{blocks: 2, utterances: []string{"these are nice"}})

	h.run(t)

	if len(h.photos(t)) != 1 {
		t.Errorf("Expected \"these are nice\" to trigger a capture")
	}
}

func TestController_NonMatchingTextIsIgnored(t *testing.T) {
	h := newHarness(t, harnessOptions{blocks: 3, utterances: []string{"hello world", "", "good morning"}})

	h.run(t)

	if captureCalls(h.runner) != 0 {
		t.Errorf("Expected no capture, got %d", captureCalls(h.runner))
	}
	if want := []State{StateStopped}; !equalStates(h.states(), want) {
		t.Errorf("Unexpected transitions: %v", h.states())
	}
	if h.source.calls != 4 {
		t.Errorf("Expected all blocks to be consumed, got %d calls", h.source.calls)
	}
}

func TestController_CaptureFailure(t *testing.T) {
	h := newHarness(t, harnessOptions{blocks: 2, utterances: []string{"cheese"}, captureFails: true})

	h.run(t)

	if got := captureCalls(h.runner); got != 3 {
		t.Errorf("Expected 3 capture attempts, got %d", got)
	}

	snap := h.ctrl.Snapshot()
	if snap.LastCycle == nil || snap.LastCycle.Success || snap.LastCycle.Attempts != 3 {
		t.Fatalf("Expected failed cycle with 3 attempts, got %+v", snap.LastCycle)
	}
	if snap.LastCycle.Error == "" {
		t.Error("Expected error message in last cycle")
	}

	if len(h.screen.images) != 0 {
		t.Errorf("Expected no review image, got %v", h.screen.images)
	}
	if len(h.photos(t)) != 0 {
		t.Error("Expected no photo")
	}

	want := []State{StatePreparing, StateCapturing, StateReviewing, StateRestartingStream, StateAwaitingCue, StateStopped}
	if !equalStates(h.states(), want) {
		t.Errorf("Unexpected transitions: %v", h.states())
	}
	if h.notifier.failed != 1 {
		t.Errorf("Expected 1 failure notification, got %d", h.notifier.failed)
	}
}

func TestController_StreamStoppedBeforeCaptureAndRestartedAfter(t *testing.T) {
	h := newHarness(t, harnessOptions{blocks: 2, utterances: []string{"cheese"}})

	h.run(t)

	// 起動時と撮影後の2回
	if h.stream.restarts != 2 {
		t.Errorf("Expected 2 restarts, got %d", h.stream.restarts)
	}
	// 撮影前と終了時の2回
	if h.stream.stops != 2 {
		t.Errorf("Expected 2 stops, got %d", h.stream.stops)
	}
	if h.stream.frames.closed != 2 {
		t.Errorf("Expected frame source to be closed twice, got %d", h.stream.frames.closed)
	}
}

func TestController_StartupFailureDegrades(t *testing.T) {
	h := newHarness(t, harnessOptions{blocks: 3, utterances: []string{"cheese"}, streamFailures: 1})

	h.run(t)

	if h.transitions[0].to != StateDegraded {
		t.Errorf("Expected degraded after startup failure, got %v", h.states())
	}
	if captureCalls(h.runner) != 0 {
		t.Error("Cues must be ignored while degraded")
	}
	if h.ctrl.Snapshot().SkippedCues != 1 {
		t.Errorf("Expected 1 skipped cue, got %d", h.ctrl.Snapshot().SkippedCues)
	}
	if h.notifier.degraded != 1 {
		t.Errorf("Expected 1 degraded notification, got %d", h.notifier.degraded)
	}
	// 音声は読み続ける
	if h.source.calls != 4 {
		t.Errorf("Expected audio to keep being consumed, got %d calls", h.source.calls)
	}
}

func TestController_RestartExhaustionThenOperatorRecovery(t *testing.T) {
	// 起動は成功、撮影後の再開は失敗、オペレーターの要求で復旧
	h := newHarness(t, harnessOptions{blocks: 4, utterances: []string{"cheese", "hello", "hello", "cheese"}})
	h.ctrl.stream = &failOnce{fakeStream: h.stream, failOn: 2}

	h.source.actions[2] = func() {
		if err := h.ctrl.RequestRestart(); err != nil {
			t.Errorf("RequestRestart failed: %v", err)
		}
	}

	h.run(t)

	want := []State{
		StatePreparing, StateCapturing, StateReviewing, StateRestartingStream, StateDegraded,
		StateRestartingStream, StateAwaitingCue,
		StatePreparing, StateCapturing, StateReviewing, StateRestartingStream, StateAwaitingCue,
		StateStopped,
	}
	if !equalStates(h.states(), want) {
		t.Errorf("Unexpected transitions:\n got %v\nwant %v", h.states(), want)
	}
	if h.notifier.degraded != 1 || h.notifier.recovered != 1 {
		t.Errorf("Unexpected notifications: %+v", h.notifier)
	}
	if len(h.photos(t)) != 2 {
		t.Errorf("Expected 2 photos, got %v", h.photos(t))
	}
}

// failOnce は failOn 回目の RestartWithRetry だけ失敗させる
type failOnce struct {
	*fakeStream
	failOn int
}

func (f *failOnce) RestartWithRetry(ctx context.Context, maxAttempts int, poll time.Duration) (*stream.Handle, camera.FrameSource, error) {
	handle, frames, err := f.fakeStream.RestartWithRetry(ctx, maxAttempts, poll)
	if f.restarts == f.failOn {
		return nil, nil, fmt.Errorf("%w: %d回試行しました", stream.ErrStreamNotReady, maxAttempts)
	}
	return handle, frames, err
}

func TestController_CircuitBreakerSkipsCues(t *testing.T) {
	h := newHarness(t, harnessOptions{
		blocks:       4,
		utterances:   []string{"cheese", "cheese", "cheese", "cheese"},
		captureFails: true,
		maxFailures:  2,
	})

	h.run(t)

	snap := h.ctrl.Snapshot()
	if snap.Cycles != 2 {
		t.Errorf("Expected 2 cycles before the breaker opens, got %d", snap.Cycles)
	}
	if snap.SkippedCues != 2 {
		t.Errorf("Expected 2 skipped cues, got %d", snap.SkippedCues)
	}
	if snap.Breaker != "open" {
		t.Errorf("Expected open breaker, got %s", snap.Breaker)
	}
	if h.notifier.breaker != 1 {
		t.Errorf("Expected 1 breaker notification, got %d", h.notifier.breaker)
	}
	// スキップした合図ではフィードに触れない（起動時 + 2サイクル）
	if h.stream.restarts != 3 {
		t.Errorf("Expected 3 restarts, got %d", h.stream.restarts)
	}
	if got := captureCalls(h.runner); got != 6 {
		t.Errorf("Expected 6 capture attempts, got %d", got)
	}
}

func TestController_AudioDeviceFailureIsFatal(t *testing.T) {
	h := newHarness(t, harnessOptions{blocks: 1})
	h.source.err = &audio.DeviceError{Device: "USB Mic", Err: errors.New("device unplugged")}

	err := h.ctrl.Run(context.Background())

	var derr *audio.DeviceError
	if !errors.As(err, &derr) {
		t.Fatalf("Expected DeviceError, got %v", err)
	}
	if h.ctrl.State() != StateStopped {
		t.Errorf("Expected stopped, got %s", h.ctrl.State())
	}
	if h.stream.stops != 1 {
		t.Errorf("Expected feed to be stopped on exit, got %d", h.stream.stops)
	}
}

func TestController_QuitDuringCycleSkipsRestart(t *testing.T) {
	h := newHarness(t, harnessOptions{blocks: 5, utterances: []string{"cheese"}})

	// 撮影中に終了要求が届く
	inner := h.ctrl.driver
	h.ctrl.driver = driverFunc(func(ctx context.Context, req camera.CaptureRequest, n int) camera.CaptureResult {
		h.ctrl.Quit()
		return inner.CapturePhoto(ctx, req, n)
	})

	h.run(t)

	if len(h.photos(t)) != 1 {
		t.Error("Expected the in-flight cycle to complete")
	}
	if h.stream.restarts != 1 {
		t.Errorf("Expected no restart after quit, got %d restarts", h.stream.restarts)
	}
	want := []State{StatePreparing, StateCapturing, StateReviewing, StateStopped}
	if !equalStates(h.states(), want) {
		t.Errorf("Unexpected transitions: %v", h.states())
	}
	if h.source.calls != 1 {
		t.Errorf("Expected no audio to be read after quit, got %d calls", h.source.calls)
	}
}

type driverFunc func(ctx context.Context, req camera.CaptureRequest, n int) camera.CaptureResult

func (f driverFunc) Configure(context.Context, camera.Mode, camera.Settings) error { return nil }
func (f driverFunc) ResetDevice(context.Context) error                             { return nil }
func (f driverFunc) CapturePhoto(ctx context.Context, req camera.CaptureRequest, n int) camera.CaptureResult {
	return f(ctx, req, n)
}

func TestController_QuitBeforeStart(t *testing.T) {
	h := newHarness(t, harnessOptions{blocks: 3, utterances: []string{"cheese"}})
	h.ctrl.Quit()
	h.ctrl.Quit()

	h.run(t)

	if captureCalls(h.runner) != 0 {
		t.Error("Expected no capture after quit")
	}
	if h.ctrl.RequestRestart() != ErrStopped {
		t.Error("Expected ErrStopped after shutdown")
	}
}

func TestController_DiscardsAudioCapturedDuringCycle(t *testing.T) {
	h := newHarness(t, harnessOptions{blocks: 2, utterances: []string{"cheese", "cheese"}})

	// 2ブロック目はサイクルの終了より前に録音されたもの
	h.source.blocks[1].Captured = time.Now().Add(-time.Hour)

	h.run(t)

	if got := h.ctrl.Snapshot().Cycles; got != 1 {
		t.Errorf("Expected stale audio not to trigger another cycle, got %d cycles", got)
	}
	if h.recognizer.Fed() != 0 {
		t.Errorf("Expected no block fed after the cycle, got %d", h.recognizer.Fed())
	}
	if h.recognizer.Resets() != 1 {
		t.Errorf("Expected a reset after the cycle, got %d", h.recognizer.Resets())
	}
}

func TestController_WebcamSavesPreviewFrame(t *testing.T) {
	h := newHarness(t, harnessOptions{
		blocks:     2,
		utterances: []string{"cheese"},
		webcam:     true,
		driver:     camera.NewWebcamDriver(),
	})

	h.run(t)

	photos := h.photos(t)
	if len(photos) != 1 {
		t.Fatalf("Expected one photo, got %v", photos)
	}
	data, err := os.ReadFile(filepath.Join(h.cfg.PhotoDir, photos[0]))
	if err != nil {
		t.Fatalf("Failed to read photo: %v", err)
	}
	if !bytes.Equal(data, h.stream.frames.frame.JPEG) {
		t.Error("Expected the last preview frame to be saved")
	}
}

func TestController_PhotoPath(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.ctrl.now = func() time.Time {
		return time.Date(2024, 5, 1, 10, 20, 30, 0, time.Local)
	}

	want := filepath.Join(h.cfg.PhotoDir, "cheese_2024-05-01_10-20-30.jpg")
	if got := h.ctrl.photoPath(); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestController_PhotoPathAvoidsExistingFile(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.ctrl.now = func() time.Time {
		return time.Date(2024, 5, 1, 10, 20, 30, 0, time.Local)
	}
	if err := os.MkdirAll(h.cfg.PhotoDir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	for _, name := range []string{"cheese_2024-05-01_10-20-30.jpg", "cheese_2024-05-01_10-20-30_1.jpg"} {
		if err := os.WriteFile(filepath.Join(h.cfg.PhotoDir, name), []byte("taken"), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	want := filepath.Join(h.cfg.PhotoDir, "cheese_2024-05-01_10-20-30_2.jpg")
	if got := h.ctrl.photoPath(); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestController_TwoCyclesInSameSecondKeepBothPhotos(t *testing.T) {
	h := newHarness(t, harnessOptions{blocks: 2, utterances: []string{"cheese", "cheese"}})
	// 2回のサイクルが同じ秒に収まる
	h.ctrl.now = func() time.Time {
		return time.Date(2024, 5, 1, 10, 20, 30, 0, time.Local)
	}

	h.run(t)

	snap := h.ctrl.Snapshot()
	if snap.Cycles != 2 || snap.Photos != 2 {
		t.Fatalf("Expected 2 successful cycles, got %+v", snap)
	}
	photos := h.photos(t)
	want := []string{"cheese_2024-05-01_10-20-30.jpg", "cheese_2024-05-01_10-20-30_1.jpg"}
	if len(photos) != len(want) {
		t.Fatalf("Expected %v, got %v", want, photos)
	}
	for i := range want {
		if photos[i] != want[i] {
			t.Errorf("Expected %s, got %s", want[i], photos[i])
		}
	}
}

func TestState_String(t *testing.T) {
	for s := StateIdle; s <= StateStopped; s++ {
		if s.String() == "unknown" {
			t.Errorf("State %d has no name", s)
		}
	}
	if State(99).String() != "unknown" {
		t.Error("Expected unknown for invalid state")
	}
}
