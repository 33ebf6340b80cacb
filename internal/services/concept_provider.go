package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"

	"github.com/inkflowhq/inkflow-backend/internal/httpx"
	"github.com/inkflowhq/inkflow-backend/internal/logger"
)

// ConceptImage is one rendered concept variant.
type ConceptImage struct {
	Bytes    []byte
	MimeType string
}

// ConceptProvider renders a tattoo concept for a prompt in a given
// style. The deterministic implementation is always available; the live
// one calls an external image model.
type ConceptProvider interface {
	Name() string
	GenerateConcept(ctx context.Context, prompt, styleKey string) (*ConceptImage, error)
}

// Style keys rotated across a variant batch.
var ConceptStyles = []string{
	"fine_line",
	"bold_traditional",
	"geometric",
	"organic",
	"blackwork",
	"dotwork",
}

// ---------------- deterministic provider ----------------

type stylePalette struct {
	bg        [3]float64
	ink       [3]float64
	accent    [3]float64
	lineWidth float64
}

var stylePalettes = map[string]stylePalette{
	"fine_line":        {bg: [3]float64{0.98, 0.97, 0.95}, ink: [3]float64{0.15, 0.15, 0.17}, accent: [3]float64{0.6, 0.6, 0.62}, lineWidth: 1.5},
	"bold_traditional": {bg: [3]float64{0.96, 0.93, 0.86}, ink: [3]float64{0.05, 0.05, 0.05}, accent: [3]float64{0.75, 0.15, 0.12}, lineWidth: 7},
	"geometric":        {bg: [3]float64{0.97, 0.97, 0.97}, ink: [3]float64{0.1, 0.1, 0.12}, accent: [3]float64{0.2, 0.35, 0.55}, lineWidth: 3},
	"organic":          {bg: [3]float64{0.97, 0.96, 0.93}, ink: [3]float64{0.12, 0.18, 0.12}, accent: [3]float64{0.3, 0.5, 0.3}, lineWidth: 2.5},
	"blackwork":        {bg: [3]float64{0.94, 0.94, 0.94}, ink: [3]float64{0.02, 0.02, 0.02}, accent: [3]float64{0.02, 0.02, 0.02}, lineWidth: 10},
	"dotwork":          {bg: [3]float64{0.98, 0.98, 0.97}, ink: [3]float64{0.1, 0.1, 0.1}, accent: [3]float64{0.35, 0.35, 0.35}, lineWidth: 1},
}

type deterministicConceptProvider struct {
	log  *logger.Logger
	face font.Face
	size int
}

// NewDeterministicConceptProvider builds the offline renderer. A TTF at
// CONCEPT_FONT_PATH enables the caption strip; without it variants are
// drawn without text.
func NewDeterministicConceptProvider(log *logger.Logger) ConceptProvider {
	p := &deterministicConceptProvider{
		log:  log.With("service", "DeterministicConceptProvider"),
		size: 1024,
	}
	if path := strings.TrimSpace(os.Getenv("CONCEPT_FONT_PATH")); path != "" {
		face, err := loadFontFace(path, 28)
		if err != nil {
			p.log.Warn("Could not load concept font; rendering without captions", "path", path, "error", err)
		} else {
			p.face = face
		}
	}
	return p
}

func loadFontFace(fontPath string, size float64) (font.Face, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("read font file: %w", err)
	}
	parsedFont, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parse TTF: %w", err)
	}
	return truetype.NewFace(parsedFont, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}

func (p *deterministicConceptProvider) Name() string { return "deterministic" }

func (p *deterministicConceptProvider) GenerateConcept(ctx context.Context, prompt, styleKey string) (*ConceptImage, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New("concept prompt required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pal, ok := stylePalettes[styleKey]
	if !ok {
		pal = stylePalettes["fine_line"]
	}
	seed := hash64([]byte(prompt + "|" + styleKey))
	rng := rand.New(rand.NewSource(int64(seed)))

	dc := gg.NewContext(p.size, p.size)
	dc.SetRGB(pal.bg[0], pal.bg[1], pal.bg[2])
	dc.Clear()

	cx, cy := float64(p.size)/2, float64(p.size)/2
	switch styleKey {
	case "geometric":
		p.drawGeometric(dc, rng, pal, cx, cy)
	case "dotwork":
		p.drawDotwork(dc, rng, pal, cx, cy)
	case "blackwork":
		p.drawBlackwork(dc, rng, pal, cx, cy)
	default:
		p.drawFlow(dc, rng, pal, cx, cy)
	}

	if p.face != nil {
		dc.SetFontFace(p.face)
		dc.SetRGB(pal.ink[0], pal.ink[1], pal.ink[2])
		caption := styleKey
		if len(prompt) > 48 {
			caption = styleKey + " · " + prompt[:48]
		} else {
			caption = styleKey + " · " + prompt
		}
		dc.DrawStringAnchored(caption, cx, float64(p.size)-40, 0.5, 0.5)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode concept png: %w", err)
	}
	return &ConceptImage{Bytes: buf.Bytes(), MimeType: "image/png"}, nil
}

func (p *deterministicConceptProvider) drawGeometric(dc *gg.Context, rng *rand.Rand, pal stylePalette, cx, cy float64) {
	dc.SetLineWidth(pal.lineWidth)
	for i := 0; i < 6+rng.Intn(5); i++ {
		sides := 3 + rng.Intn(5)
		r := 80 + rng.Float64()*320
		rot := rng.Float64() * math.Pi
		dc.DrawRegularPolygon(sides, cx, cy, r, rot)
		if i%2 == 0 {
			dc.SetRGB(pal.ink[0], pal.ink[1], pal.ink[2])
		} else {
			dc.SetRGB(pal.accent[0], pal.accent[1], pal.accent[2])
		}
		dc.Stroke()
	}
}

func (p *deterministicConceptProvider) drawDotwork(dc *gg.Context, rng *rand.Rand, pal stylePalette, cx, cy float64) {
	dc.SetRGB(pal.ink[0], pal.ink[1], pal.ink[2])
	for i := 0; i < 2400; i++ {
		ang := rng.Float64() * 2 * math.Pi
		// Density falls off from the center so the cloud reads as shading.
		r := math.Abs(rng.NormFloat64()) * 180
		x := cx + math.Cos(ang)*r
		y := cy + math.Sin(ang)*r
		dc.DrawCircle(x, y, 0.8+rng.Float64()*1.8)
		dc.Fill()
	}
}

func (p *deterministicConceptProvider) drawBlackwork(dc *gg.Context, rng *rand.Rand, pal stylePalette, cx, cy float64) {
	dc.SetRGB(pal.ink[0], pal.ink[1], pal.ink[2])
	for i := 0; i < 4+rng.Intn(4); i++ {
		w := 120 + rng.Float64()*280
		h := 60 + rng.Float64()*200
		x := cx - w/2 + (rng.Float64()-0.5)*300
		y := cy - h/2 + (rng.Float64()-0.5)*300
		dc.DrawRoundedRectangle(x, y, w, h, 12)
		dc.Fill()
	}
}

func (p *deterministicConceptProvider) drawFlow(dc *gg.Context, rng *rand.Rand, pal stylePalette, cx, cy float64) {
	dc.SetLineWidth(pal.lineWidth)
	for i := 0; i < 8+rng.Intn(8); i++ {
		if i%3 == 0 {
			dc.SetRGB(pal.accent[0], pal.accent[1], pal.accent[2])
		} else {
			dc.SetRGB(pal.ink[0], pal.ink[1], pal.ink[2])
		}
		x, y := cx+(rng.Float64()-0.5)*500, cy+(rng.Float64()-0.5)*500
		dc.MoveTo(x, y)
		for j := 0; j < 3; j++ {
			x2, y2 := x+(rng.Float64()-0.5)*400, y+(rng.Float64()-0.5)*400
			cxp, cyp := x+(rng.Float64()-0.5)*300, y+(rng.Float64()-0.5)*300
			dc.QuadraticTo(cxp, cyp, x2, y2)
			x, y = x2, y2
		}
		dc.Stroke()
	}
}

// ---------------- live image-model provider ----------------

type imageAPIError struct {
	StatusCode int
	Body       string
}

func (e *imageAPIError) Error() string {
	return fmt.Sprintf("image api http %d: %s", e.StatusCode, e.Body)
}

func (e *imageAPIError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type liveConceptProvider struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	imageModel string
	imageSize  string
	httpClient *http.Client
	maxRetries int
}

// NewLiveConceptProvider talks to an OpenAI-compatible images endpoint.
// Returns an error when IMAGE_API_KEY is unset, so callers fall back to
// the deterministic renderer cleanly.
func NewLiveConceptProvider(log *logger.Logger) (ConceptProvider, error) {
	apiKey := strings.TrimSpace(os.Getenv("IMAGE_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("missing IMAGE_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("IMAGE_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	imageModel := strings.TrimSpace(os.Getenv("IMAGE_API_MODEL"))
	if imageModel == "" {
		imageModel = "gpt-image-1"
	}
	imageSize := strings.TrimSpace(os.Getenv("IMAGE_API_SIZE"))
	if imageSize == "" {
		imageSize = "1024x1024"
	}

	timeoutSec := 120
	if v := os.Getenv("IMAGE_API_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	maxRetries := 3
	if v := os.Getenv("IMAGE_API_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &liveConceptProvider{
		log:        log.With("service", "LiveConceptProvider"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		imageModel: imageModel,
		imageSize:  imageSize,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

func (c *liveConceptProvider) Name() string { return "live" }

type imagesGenerationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type imagesGenerationResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (c *liveConceptProvider) doOnce(ctx context.Context, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/images/generations", &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &imageAPIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *liveConceptProvider) do(ctx context.Context, body any, out any) error {
	backoff := 1 * time.Second
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := c.doOnce(ctx, body)
		if err == nil {
			return json.Unmarshal(raw, out)
		}
		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return err
		}
		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 10*time.Second))
		c.log.Warn("Image generation retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

func (c *liveConceptProvider) GenerateConcept(ctx context.Context, prompt, styleKey string) (*ConceptImage, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errors.New("concept prompt required")
	}
	full := fmt.Sprintf("Tattoo design concept, %s style, clean linework on plain background: %s", strings.ReplaceAll(styleKey, "_", " "), prompt)

	req := imagesGenerationRequest{
		Model:          c.imageModel,
		Prompt:         full,
		N:              1,
		Size:           c.imageSize,
		ResponseFormat: "b64_json",
	}
	var resp imagesGenerationResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no image returned")
	}
	b64 := strings.TrimSpace(resp.Data[0].B64JSON)
	if b64 == "" {
		return nil, errors.New("image response missing b64_json")
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("decode image base64: %w", err)
	}
	return &ConceptImage{Bytes: raw, MimeType: "image/png"}, nil
}
