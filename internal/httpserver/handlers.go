package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register the JPEG decoder for frame validation
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Lemirq/deerhacks/internal/audio"
	"github.com/Lemirq/deerhacks/internal/coach"
	"github.com/Lemirq/deerhacks/internal/report"
	"github.com/Lemirq/deerhacks/internal/storage"
)

// maxImageBytes caps frame uploads; the classifier does not need a 4K frame.
const maxImageBytes = 5 * 1024 * 1024

const defaultSessionID = "default_session"

// analyze is the main per-cycle endpoint. A capture client posts a multipart
// form with a JPEG frame, optional WAV clip, optional precomputed audio
// metrics, a session id and an optional device id, and always gets exactly
// one coaching event back.
func (s *Server) analyze(c echo.Context) error {
	started := time.Now()

	frame, err := s.readFrame(c)
	if err != nil {
		return err
	}

	sessionID := c.FormValue("session_id")
	if sessionID == "" {
		sessionID = defaultSessionID
	}

	clip := s.readClip(c)
	metrics, err := s.readMetrics(c, clip)
	if err != nil {
		return err
	}

	in := coach.CycleInput{
		SessionID: sessionID,
		DeviceID:  c.FormValue("device_id"),
		Frame:     frame,
		Metrics:   metrics,
	}
	if clip != nil {
		in.AudioPCM = clip.PCM
	}

	ev := s.engine.Analyze(c.Request().Context(), in)
	s.hub.Publish(sessionID, ev)

	log.Printf("[%s] /analyze -> %-14s score=%.2f total=%dms",
		sessionID, ev.Event, ev.Score, time.Since(started).Milliseconds())
	return c.JSON(http.StatusOK, ev)
}

// readFrame pulls and validates the JPEG frame field.
func (s *Server) readFrame(c echo.Context) ([]byte, error) {
	fh, err := c.FormFile("frame")
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "frame file is required")
	}
	raw, err := readMultipartFile(fh, maxImageBytes)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "empty image file received")
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(raw)); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "could not decode image, must be a valid JPEG")
	}
	return raw, nil
}

// readClip pulls the optional WAV clip. A malformed clip degrades to "no
// audio this cycle" rather than failing the request.
func (s *Server) readClip(c echo.Context) *audio.Clip {
	fh, err := c.FormFile("audio_clip")
	if err != nil {
		return nil
	}
	raw, err := readMultipartFile(fh, maxImageBytes)
	if err != nil || len(raw) == 0 {
		return nil
	}
	clip, err := audio.DecodeWAV(raw)
	if err != nil {
		log.Printf("ignoring malformed audio clip: %v", err)
		return nil
	}
	return clip
}

// readMetrics parses the audio_metrics form field, or derives metrics from
// the uploaded clip when the field is absent.
func (s *Server) readMetrics(c echo.Context, clip *audio.Clip) (*audio.Metrics, error) {
	raw := c.FormValue("audio_metrics")
	if raw == "" {
		if clip == nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "audio_metrics or audio_clip is required")
		}
		// Window length and chunking follow the clip's own rate and duration;
		// sub-second clips report no speech rate.
		ex := audio.NewExtractor(audio.Config{SampleRate: clip.SampleRate})
		m := ex.Extract(clip.Samples())
		return &m, nil
	}

	var m audio.Metrics
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("audio_metrics is not valid JSON: %v", err))
	}
	m.Clamp()
	return &m, nil
}

func readMultipartFile(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	if fh.Size > limit {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file too large: %d bytes (max %d)", fh.Size, limit))
	}
	f, err := fh.Open()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to read upload")
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "failed to read upload")
	}
	if int64(len(raw)) > limit {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file too large (max %d bytes)", limit))
	}
	return raw, nil
}

func (s *Server) sessionSummary(c echo.Context) error {
	id := c.Param("id")
	st, ok := s.registry.Fetch(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("session '%s' not found", id))
	}

	history := st.History()
	if len(history) == 0 {
		return c.JSON(http.StatusOK, map[string]any{
			"session_id": id, "events": 0, "message": "No events recorded yet.",
		})
	}
	sum := report.Summarize(id, history, st.RecentScoreTrend(3), st.ConsecutiveGood(), st.ConsecutiveBad())
	return c.JSON(http.StatusOK, sum)
}

func (s *Server) sessionReport(c echo.Context) error {
	id := c.Param("id")
	st, ok := s.registry.Fetch(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("session '%s' not found", id))
	}

	history := st.History()
	if len(history) == 0 {
		return c.JSON(http.StatusOK, map[string]any{
			"session_id": id, "events": 0, "message": "No events recorded yet.",
		})
	}

	rep := report.Build(id, history, st.HookResults())

	// Persist when we know which device this session belongs to; the query
	// parameter overrides the id the session captured.
	deviceID := c.QueryParam("device_id")
	if deviceID == "" {
		deviceID = st.DeviceID()
	}
	if deviceID != "" {
		s.persistReport(deviceID, id, rep)
	}

	return c.JSON(http.StatusOK, rep)
}

func (s *Server) persistReport(deviceID, sessionID string, rep report.Report) {
	raw, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		log.Printf("[%s] marshal report failed: %v", sessionID, err)
		return
	}
	if err := s.store.Save(deviceID, sessionID, raw); err != nil {
		log.Printf("[%s] save report failed: %v", sessionID, err)
		return
	}
	if s.archive.Enabled() {
		go func() {
			if err := s.archive.UploadReport(deviceID, sessionID, raw); err != nil {
				log.Printf("[%s] archive upload failed: %v", sessionID, err)
			}
		}()
	}
}

func (s *Server) resetSession(c echo.Context) error {
	id := c.Param("id")
	if s.registry.Delete(id) {
		log.Printf("session reset: %s", id)
		return c.JSON(http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Session '%s' cleared.", id),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Session '%s' did not exist, nothing to clear.", id),
	})
}

func (s *Server) listReports(c echo.Context) error {
	sums, err := s.store.List(c.Param("device_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list reports")
	}
	return c.JSON(http.StatusOK, sums)
}

func (s *Server) savedReport(c echo.Context) error {
	deviceID := c.Param("device_id")
	sessionID := c.Param("session_id")
	raw, err := s.store.Load(deviceID, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound,
			fmt.Sprintf("report not found for device '%s', session '%s'", deviceID, sessionID))
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load report")
	}
	return c.JSONBlob(http.StatusOK, raw)
}

func (s *Server) health(c echo.Context) error {
	keyStatus := "configured"
	if s.cfg.GeminiKey == "" {
		keyStatus = "MISSING"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":     "ok",
		"gemini_key": keyStatus,
		"sessions":   s.registry.Len(),
	})
}
