package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Lemirq/deerhacks/internal/coach"
)

// GeminiClient calls the Gemini generateContent API for the audio and vision
// judgments. It implements coach.Classifier.
type GeminiClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	BaseURL    string
}

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// DefaultModel is the vision-capable flash model the server ships with.
const DefaultModel = "gemini-2.5-flash-lite"

// NewGeminiClient constructs a client with the default endpoint and a
// generous transport timeout; per-call deadlines come from the caller's
// context.
func NewGeminiClient(apiKey, model string) *GeminiClient {
	if model == "" {
		model = DefaultModel
	}
	return &GeminiClient{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     apiKey,
		Model:      model,
		BaseURL:    defaultBaseURL,
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text,omitempty"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

var retryDelayRe = regexp.MustCompile(`retryDelay[^0-9]*(\d+)`)

// generate performs one generateContent call and returns the concatenated
// candidate text. Rate limiting surfaces as *coach.RateLimitedError so the
// engine can schedule a cooperative backoff.
func (c *GeminiClient) generate(ctx context.Context, system string, parts []geminiPart, temperature float64) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("gemini api key missing")
	}
	base := c.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(base, "/"), c.Model)

	body, _ := json.Marshal(geminiRequest{
		Contents:          []geminiContent{{Role: "user", Parts: parts}},
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: system}}},
		GenerationConfig: &geminiGenConfig{
			Temperature:      temperature,
			MaxOutputTokens:  256,
			ResponseMimeType: "application/json",
		},
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &coach.RateLimitedError{RetryAfter: parseRetryDelay(string(respBody))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Quota errors sometimes arrive as 400s with the quota status inline.
		if strings.Contains(string(respBody), "RESOURCE_EXHAUSTED") {
			return "", &coach.RateLimitedError{RetryAfter: parseRetryDelay(string(respBody))}
		}
		return "", fmt.Errorf("gemini error: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var gr geminiResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return "", err
	}
	if gr.Error != nil {
		return "", fmt.Errorf("gemini error: code=%d %s", gr.Error.Code, gr.Error.Message)
	}
	if len(gr.Candidates) == 0 {
		return "", fmt.Errorf("gemini: empty candidates")
	}

	var sb strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("gemini: empty response text")
	}
	return text, nil
}

func parseRetryDelay(body string) time.Duration {
	m := retryDelayRe.FindStringSubmatch(body)
	if len(m) == 2 {
		if secs, err := strconv.Atoi(m[1]); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 15 * time.Second
}

func pcmPart(pcm []byte) geminiPart {
	return geminiPart{InlineData: &geminiInlineData{
		MimeType: "audio/pcm;rate=16000",
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}}
}

func jpegPart(frame []byte) geminiPart {
	return geminiPart{InlineData: &geminiInlineData{
		MimeType: "image/jpeg",
		Data:     base64.StdEncoding.EncodeToString(frame),
	}}
}

// AudioVerdict asks the audio coach to judge the raw clip in the current
// session context.
func (c *GeminiClient) AudioVerdict(ctx context.Context, pcm []byte, turnPrompt string) (coach.Verdict, error) {
	text, err := c.generate(ctx, audioSystemInstruction,
		[]geminiPart{pcmPart(pcm), {Text: turnPrompt}}, 0.2)
	if err != nil {
		return coach.Verdict{}, err
	}
	return ParseVerdict(text)
}

// VisionVerdict asks the visual coach to judge the camera frame in the
// current session context.
func (c *GeminiClient) VisionVerdict(ctx context.Context, frame []byte, turnPrompt string) (coach.Verdict, error) {
	text, err := c.generate(ctx, visionSystemInstruction,
		[]geminiPart{{Text: turnPrompt}, jpegPart(frame)}, 0.2)
	if err != nil {
		return coach.Verdict{}, err
	}
	return ParseVerdict(text)
}

// HookAudioVerdict is the one-shot opening judgment over the buffered clip.
func (c *GeminiClient) HookAudioVerdict(ctx context.Context, pcm []byte) (coach.Verdict, error) {
	text, err := c.generate(ctx, hookAudioSystemInstruction,
		[]geminiPart{{Text: "Analyze this audio opening. Return ONLY JSON."}, pcmPart(pcm)}, 0.3)
	if err != nil {
		return coach.Verdict{}, err
	}
	return ParseVerdict(text)
}

// HookVisionVerdict is the one-shot opening judgment over the buffered frame.
func (c *GeminiClient) HookVisionVerdict(ctx context.Context, frame []byte) (coach.Verdict, error) {
	text, err := c.generate(ctx, hookVisionSystemInstruction,
		[]geminiPart{{Text: "Analyze this opening frame. Return ONLY JSON."}, jpegPart(frame)}, 0.3)
	if err != nil {
		return coach.Verdict{}, err
	}
	return ParseVerdict(text)
}
