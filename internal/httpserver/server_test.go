package httpserver

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"image"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Lemirq/deerhacks/internal/coach"
	"github.com/Lemirq/deerhacks/internal/config"
	"github.com/Lemirq/deerhacks/internal/storage"
)

// stubClassifier returns one canned verdict for the normal phase and a good
// hook verdict, so handler tests never reach the network. The last turn
// prompt is kept for assertions on the session context handed downstream.
type stubClassifier struct {
	verdict coach.Verdict

	mu         sync.Mutex
	lastPrompt string
}

func (s *stubClassifier) notePrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrompt = prompt
}

func (s *stubClassifier) prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPrompt
}

func (s *stubClassifier) AudioVerdict(_ context.Context, _ []byte, prompt string) (coach.Verdict, error) {
	s.notePrompt(prompt)
	return s.verdict, nil
}

func (s *stubClassifier) VisionVerdict(_ context.Context, _ []byte, prompt string) (coach.Verdict, error) {
	s.notePrompt(prompt)
	return s.verdict, nil
}

func (s *stubClassifier) HookAudioVerdict(_ context.Context, _ []byte) (coach.Verdict, error) {
	return coach.Verdict{Kind: coach.EventHookGood, Score: 0.8, Message: "GREAT HOOK!", Confidence: 0.9}, nil
}

func (s *stubClassifier) HookVisionVerdict(_ context.Context, _ []byte) (coach.Verdict, error) {
	return coach.Verdict{Kind: coach.EventHookGood, Score: 0.8, Message: "DYNAMIC", Confidence: 0.9}, nil
}

const testHookWindow = 20 * time.Millisecond

func newTestStub() *stubClassifier {
	return &stubClassifier{verdict: coach.Verdict{
		Kind: coach.EventGood, Score: 0.85, Message: "LOCKED IN", Confidence: 0.9,
	}}
}

func newTestServerWithStub(t *testing.T, stub *stubClassifier) *Server {
	t.Helper()
	engine := coach.NewEngine(stub, coach.NewRegistry(), time.Second, testHookWindow)
	store := storage.NewFileStore(t.TempDir())
	archive := storage.NewSupabaseArchive("", "", "") // disabled
	cfg := config.Config{GeminiKey: "test-key"}
	return New(cfg, engine, store, archive)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWithStub(t, newTestStub())
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

const metricsJSON = `{"volume_rms":0.2,"silence_ratio":0.3,"estimated_wpm":140,"peak_volume":0.6,"volume_variance":0.01}`

// analyzeRequest builds the multipart form a capture client posts each cycle.
func analyzeRequest(t *testing.T, frame []byte, fields map[string]string, clip []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if frame != nil {
		fw, err := w.CreateFormFile("frame", "0001.jpg")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(frame)
	}
	if clip != nil {
		fw, err := w.CreateFormFile("audio_clip", "0001.wav")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(clip)
	}
	for k, v := range fields {
		w.WriteField(k, v)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// runCycle posts one analyze call and decodes the event.
func runCycle(t *testing.T, s *Server, sessionID string, extra map[string]string) coach.CoachingEvent {
	t.Helper()
	fields := map[string]string{"session_id": sessionID, "audio_metrics": metricsJSON}
	for k, v := range extra {
		fields[k] = v
	}
	rec := doRequest(s, analyzeRequest(t, jpegBytes(t), fields, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d body=%s", rec.Code, rec.Body.String())
	}
	var ev coach.CoachingEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return ev
}

// runPastHook drives a session through its hook window into the normal phase.
func runPastHook(t *testing.T, s *Server, sessionID string, extra map[string]string) {
	t.Helper()
	runCycle(t, s, sessionID, extra) // collecting
	time.Sleep(testHookWindow + 10*time.Millisecond)
	runCycle(t, s, sessionID, extra) // hook evaluation
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" || body["gemini_key"] != "configured" {
		t.Fatalf("body = %v", body)
	}
}

func TestHealth_MissingKey(t *testing.T) {
	s := newTestServer(t)
	s.cfg.GeminiKey = ""
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["gemini_key"] != "MISSING" {
		t.Fatalf("gemini_key = %v, want MISSING", body["gemini_key"])
	}
}

func TestAnalyze_RequiresFrame(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, analyzeRequest(t, nil, map[string]string{"audio_metrics": metricsJSON}, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAnalyze_RejectsNonJPEG(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, analyzeRequest(t, []byte("this is not an image"), map[string]string{"audio_metrics": metricsJSON}, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAnalyze_RequiresAudioInfo(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, analyzeRequest(t, jpegBytes(t), nil, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAnalyze_BadMetricsJSON(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, analyzeRequest(t, jpegBytes(t), map[string]string{"audio_metrics": "{broken"}, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// wavClip builds a minimal PCM16LE mono WAV file.
func wavClip(t *testing.T, sampleRate int, frames []int16) []byte {
	t.Helper()
	var data bytes.Buffer
	for _, s := range frames {
		binary.Write(&data, binary.LittleEndian, s)
	}
	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(4+8+16+8+data.Len()))
	out.WriteString("WAVEfmt ")
	binary.Write(&out, binary.LittleEndian, uint32(16))
	binary.Write(&out, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&out, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&out, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&out, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(&out, binary.LittleEndian, uint16(2))
	binary.Write(&out, binary.LittleEndian, uint16(16))
	out.WriteString("data")
	binary.Write(&out, binary.LittleEndian, uint32(data.Len()))
	out.Write(data.Bytes())
	return out.Bytes()
}

func TestAnalyze_MetricsFromShortClip(t *testing.T) {
	stub := newTestStub()
	s := newTestServerWithStub(t, stub)
	runPastHook(t, s, "s1", nil)

	// Half a second of clear speech bursts at 16kHz. The derived window is
	// under one second, so the speech rate handed to the classifiers is 0.
	frames := make([]int16, 8000)
	for i := range frames {
		if (i/800)%2 == 0 {
			frames[i] = 8000
		} else {
			frames[i] = 100
		}
	}
	fields := map[string]string{"session_id": "s1"}
	rec := doRequest(s, analyzeRequest(t, jpegBytes(t), fields, wavClip(t, 16000, frames)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if p := stub.prompt(); !strings.Contains(p, "wpm≈0") {
		t.Fatalf("prompt = %q, want a zero speech rate for a sub-second clip", p)
	}
}

func TestAnalyze_MalformedClipDegrades(t *testing.T) {
	s := newTestServer(t)
	fields := map[string]string{"session_id": "s1", "audio_metrics": metricsJSON}
	rec := doRequest(s, analyzeRequest(t, jpegBytes(t), fields, []byte("not a wav file")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (bad clip is ignored, not fatal)", rec.Code)
	}
}

func TestAnalyze_PhaseProgression(t *testing.T) {
	s := newTestServer(t)

	ev := runCycle(t, s, "s1", nil)
	if ev.Phase != coach.PhaseHook || ev.Detail != "Collecting..." {
		t.Fatalf("first cycle should be the collecting placeholder, got %+v", ev)
	}

	time.Sleep(testHookWindow + 10*time.Millisecond)
	ev = runCycle(t, s, "s1", nil)
	if !ev.Event.IsHook() {
		t.Fatalf("second cycle should be the hook evaluation, got %+v", ev)
	}

	ev = runCycle(t, s, "s1", nil)
	if ev.Phase != coach.PhaseNormal || ev.Event != coach.EventGood {
		t.Fatalf("third cycle should be a normal verdict, got %+v", ev)
	}
	if ev.Message != "LOCKED IN" {
		t.Fatalf("message = %q", ev.Message)
	}
	if ev.Detail == "" {
		t.Fatal("normal event should carry the score bar detail")
	}
}

func TestAnalyze_DefaultSessionID(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, analyzeRequest(t, jpegBytes(t), map[string]string{"audio_metrics": metricsJSON}, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := s.registry.Fetch("default_session"); !ok {
		t.Fatal("missing session_id should fall back to default_session")
	}
}

func TestSessionSummary(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/session/ghost/summary", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", rec.Code)
	}

	runPastHook(t, s, "s1", nil)
	runCycle(t, s, "s1", nil)

	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/session/s1/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var sum struct {
		SessionID   string  `json:"session_id"`
		TotalEvents int     `json:"total_events"`
		AvgScore    float64 `json:"avg_score"`
	}
	json.Unmarshal(rec.Body.Bytes(), &sum)
	if sum.SessionID != "s1" || sum.TotalEvents != 2 {
		t.Fatalf("summary = %+v, want 2 events (hook + normal)", sum)
	}
}

func TestSessionSummary_EmptyHistory(t *testing.T) {
	s := newTestServer(t)
	runCycle(t, s, "s1", nil) // collecting only, nothing recorded

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/session/s1/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No events recorded yet") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestSessionReport_PersistsAndServes(t *testing.T) {
	s := newTestServer(t)
	runPastHook(t, s, "s1", map[string]string{"device_id": "pi-01"})
	runCycle(t, s, "s1", map[string]string{"device_id": "pi-01"})

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/session/s1/report", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d body=%s", rec.Code, rec.Body.String())
	}
	var rep struct {
		SessionID      string `json:"session_id"`
		HookEvaluation *struct {
			Verdict string `json:"verdict"`
		} `json:"hook_evaluation"`
		Timeline []json.RawMessage `json:"timeline"`
	}
	json.Unmarshal(rec.Body.Bytes(), &rep)
	if rep.SessionID != "s1" || len(rep.Timeline) != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.HookEvaluation == nil || rep.HookEvaluation.Verdict != "STRONG" {
		t.Fatalf("hook evaluation = %+v", rep.HookEvaluation)
	}

	// The report was persisted under the device captured at analyze time.
	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/reports/pi-01", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var sums []storage.Summary
	json.Unmarshal(rec.Body.Bytes(), &sums)
	if len(sums) != 1 || sums[0].SessionID != "s1" {
		t.Fatalf("listed %+v, want the saved report", sums)
	}

	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/reports/pi-01/s1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("saved report status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"session_id": "s1"`) {
		t.Fatal("saved report body missing session id")
	}

	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/reports/pi-01/ghost", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing saved report status = %d, want 404", rec.Code)
	}
}

func TestResetSession(t *testing.T) {
	s := newTestServer(t)
	runCycle(t, s, "s1", nil)

	rec := doRequest(s, httptest.NewRequest(http.MethodDelete, "/session/s1", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "cleared") {
		t.Fatalf("delete status = %d body=%s", rec.Code, rec.Body.String())
	}
	if _, ok := s.registry.Fetch("s1"); ok {
		t.Fatal("session should be gone after reset")
	}

	// Deleting again is a no-op, not an error.
	rec = doRequest(s, httptest.NewRequest(http.MethodDelete, "/session/s1", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "nothing to clear") {
		t.Fatalf("second delete status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestLiveFeed(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/session/s1/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server a moment to register the subscriber, then publish.
	deadline := time.Now().Add(time.Second)
	for {
		s.hub.mu.Lock()
		n := len(s.hub.subs["s1"])
		s.hub.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	want := coach.CoachingEvent{Event: coach.EventGood, Score: 0.9, Message: "LOCKED IN", Phase: coach.PhaseNormal}
	s.hub.Publish("s1", want)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got coach.CoachingEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Event != want.Event || got.Score != want.Score || got.Message != want.Message {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestLiveFeed_StalledSubscriberDoesNotBlockHub(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	dial := func(session string) *websocket.Conn {
		t.Helper()
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/session/" + session + "/live"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial %s: %v", session, err)
		}
		deadline := time.Now().Add(time.Second)
		for {
			s.hub.mu.Lock()
			n := len(s.hub.subs[session])
			s.hub.mu.Unlock()
			if n == 1 {
				return conn
			}
			if time.Now().After(deadline) {
				t.Fatalf("subscriber for %s never registered", session)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	slow := dial("slow")
	defer slow.Close()
	fast := dial("fast")
	defer fast.Close()

	// Seize the slow subscriber's write lock to stand in for a stalled write.
	s.hub.mu.Lock()
	var slowSub *liveConn
	for sub := range s.hub.subs["slow"] {
		slowSub = sub
	}
	s.hub.mu.Unlock()
	slowSub.mu.Lock()

	ev := coach.CoachingEvent{Event: coach.EventGood, Score: 0.9, Message: "LOCKED IN"}

	stalled := make(chan struct{})
	go func() {
		s.hub.Publish("slow", ev)
		close(stalled)
	}()
	time.Sleep(20 * time.Millisecond) // let the publish reach the stalled write

	done := make(chan struct{})
	go func() {
		s.hub.Publish("fast", ev)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		slowSub.mu.Unlock()
		t.Fatal("publish to another session blocked behind a stalled subscriber")
	}

	fast.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got coach.CoachingEvent
	if err := fast.ReadJSON(&got); err != nil {
		t.Fatalf("fast read: %v", err)
	}

	// Release the stalled subscriber; its publish completes normally.
	slowSub.mu.Unlock()
	select {
	case <-stalled:
	case <-time.After(time.Second):
		t.Fatal("stalled publish never finished after release")
	}
	slow.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := slow.ReadJSON(&got); err != nil {
		t.Fatalf("slow read: %v", err)
	}
}
