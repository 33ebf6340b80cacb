package services

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"os"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	vision "cloud.google.com/go/vision/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
	"google.golang.org/api/option"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
)

type VisionQualityResult struct {
	Score  float64  `json:"score"`
	Issues []string `json:"issues,omitempty"`
}

// VisionExtractionResult carries the detected body part plus up to
// three derived images. The pipeline persists the image bytes and keeps
// only storage keys on the extraction record.
type VisionExtractionResult struct {
	BodyPart string  `json:"body_part"`
	Quality  float64 `json:"quality"`
	Cutout   []byte  `json:"-"`
	Mask     []byte  `json:"-"`
	Unwarped []byte  `json:"-"`
}

// VisionProvider is the swappable quality/extraction backend. The
// deterministic implementation and the Google Vision one return the
// same shapes; callers never branch on which is active.
type VisionProvider interface {
	Name() string
	CheckQuality(ctx context.Context, img []byte, mimeType string) (*VisionQualityResult, error)
	ExtractTattooRegion(ctx context.Context, img []byte) (*VisionExtractionResult, error)
}

// ---------------- deterministic provider ----------------

var stubBodyParts = []string{"forearm", "upper_arm", "calf", "thigh", "back", "chest", "shoulder"}

type deterministicVisionProvider struct {
	log *logger.Logger
}

func NewDeterministicVisionProvider(log *logger.Logger) VisionProvider {
	return &deterministicVisionProvider{log: log.With("service", "DeterministicVisionProvider")}
}

func (p *deterministicVisionProvider) Name() string { return "deterministic" }

func (p *deterministicVisionProvider) CheckQuality(ctx context.Context, img []byte, mimeType string) (*VisionQualityResult, error) {
	if len(img) == 0 {
		return &VisionQualityResult{Score: 0, Issues: []string{"empty_image"}}, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return &VisionQualityResult{Score: 0.1, Issues: []string{"decode_failed"}}, nil
	}
	var issues []string
	score := 0.9
	if cfg.Width < 256 || cfg.Height < 256 {
		issues = append(issues, "too_small")
		score -= 0.4
	}
	if cfg.Width > 8000 || cfg.Height > 8000 {
		issues = append(issues, "oversized")
		score -= 0.1
	}
	// Stable jitter so distinct uploads get distinct but repeatable scores.
	score -= float64(hash64(img)%10) / 100.0
	if score < 0 {
		score = 0
	}
	return &VisionQualityResult{Score: score, Issues: issues}, nil
}

func (p *deterministicVisionProvider) ExtractTattooRegion(ctx context.Context, img []byte) (*VisionExtractionResult, error) {
	src, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := src.Bounds()
	// Center crop covering the middle two thirds.
	cw, ch := b.Dx()*2/3, b.Dy()*2/3
	x0 := b.Min.X + (b.Dx()-cw)/2
	y0 := b.Min.Y + (b.Dy()-ch)/2
	crop := image.NewRGBA(image.Rect(0, 0, cw, ch))
	draw.Draw(crop, crop.Bounds(), src, image.Point{X: x0, Y: y0}, draw.Src)

	cutout, err := encodePNG(crop)
	if err != nil {
		return nil, err
	}
	mask, err := renderRegionMask(b.Dx(), b.Dy(), x0-b.Min.X, y0-b.Min.Y, cw, ch)
	if err != nil {
		return nil, err
	}
	unwarped, err := scalePNG(crop, 512, 512)
	if err != nil {
		return nil, err
	}

	h := hash64(img)
	return &VisionExtractionResult{
		BodyPart: stubBodyParts[h%uint64(len(stubBodyParts))],
		Quality:  0.7 + float64(h%25)/100.0,
		Cutout:   cutout,
		Mask:     mask,
		Unwarped: unwarped,
	}, nil
}

func renderRegionMask(w, h, x, y, rw, rh int) ([]byte, error) {
	dc := gg.NewContext(w, h)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	dc.SetRGB(1, 1, 1)
	dc.DrawRectangle(float64(x), float64(y), float64(rw), float64(rh))
	dc.Fill()
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode mask: %w", err)
	}
	return buf.Bytes(), nil
}

func encodePNG(img image.Image) ([]byte, error) {
	dc := gg.NewContextForImage(img)
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func scalePNG(src image.Image, w, h int) ([]byte, error) {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return encodePNG(dst)
}

func hash64(data []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(data)
	return h.Sum64()
}

// ---------------- Google Vision provider ----------------

type googleVisionProvider struct {
	log    *logger.Logger
	client *vision.ImageAnnotatorClient
}

func NewGoogleVisionProvider(log *logger.Logger) (VisionProvider, error) {
	slog := log.With("service", "GoogleVisionProvider")

	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	ctx := context.Background()
	var (
		client *vision.ImageAnnotatorClient
		err    error
	)
	if creds != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(creds))
	} else {
		// ADC (GKE/Cloud Run with attached SA)
		client, err = vision.NewImageAnnotatorClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &googleVisionProvider{log: slog, client: client}, nil
}

func (p *googleVisionProvider) Name() string { return "gcp_vision" }

func (p *googleVisionProvider) CheckQuality(ctx context.Context, img []byte, mimeType string) (*VisionQualityResult, error) {
	if len(img) == 0 {
		return &VisionQualityResult{Score: 0, Issues: []string{"empty_image"}}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	vimg, err := vision.NewImageFromReader(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("vision NewImageFromReader: %w", err)
	}
	hints, err := p.client.CropHints(ctx, vimg, nil)
	if err != nil {
		return nil, fmt.Errorf("vision CropHints: %w", err)
	}

	var issues []string
	score := 0.5
	if hints != nil && len(hints.CropHints) > 0 {
		best := hints.CropHints[0]
		score = float64(best.GetConfidence())
		if best.GetImportanceFraction() < 0.3 {
			issues = append(issues, "subject_too_small")
		}
	} else {
		issues = append(issues, "no_subject_detected")
	}
	if cfg, _, derr := image.DecodeConfig(bytes.NewReader(img)); derr == nil {
		if cfg.Width < 256 || cfg.Height < 256 {
			issues = append(issues, "too_small")
			score = score * 0.5
		}
	}
	return &VisionQualityResult{Score: clamp01(score), Issues: issues}, nil
}

func (p *googleVisionProvider) ExtractTattooRegion(ctx context.Context, img []byte) (*VisionExtractionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	vimg, err := vision.NewImageFromReader(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("vision NewImageFromReader: %w", err)
	}
	objects, err := p.client.LocalizeObjects(ctx, vimg, nil)
	if err != nil {
		return nil, fmt.Errorf("vision LocalizeObjects: %w", err)
	}

	target := pickBodyObject(objects)
	if target == nil {
		// No localized subject; fall back to the deterministic crop so the
		// extraction still yields artifacts.
		det := &deterministicVisionProvider{log: p.log}
		out, derr := det.ExtractTattooRegion(ctx, img)
		if derr != nil {
			return nil, derr
		}
		out.BodyPart = "unknown"
		out.Quality = 0.4
		return out, nil
	}

	src, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := src.Bounds()
	x0, y0, x1, y1 := normalizedRect(target.GetBoundingPoly(), b.Dx(), b.Dy())
	cw, ch := x1-x0, y1-y0
	if cw <= 0 || ch <= 0 {
		return nil, fmt.Errorf("degenerate bounding region")
	}
	crop := image.NewRGBA(image.Rect(0, 0, cw, ch))
	draw.Draw(crop, crop.Bounds(), src, image.Point{X: b.Min.X + x0, Y: b.Min.Y + y0}, draw.Src)

	cutout, err := encodePNG(crop)
	if err != nil {
		return nil, err
	}
	mask, err := renderRegionMask(b.Dx(), b.Dy(), x0, y0, cw, ch)
	if err != nil {
		return nil, err
	}
	unwarped, err := scalePNG(crop, 512, 512)
	if err != nil {
		return nil, err
	}
	return &VisionExtractionResult{
		BodyPart: mapObjectToBodyPart(target.GetName()),
		Quality:  float64(target.GetScore()),
		Cutout:   cutout,
		Mask:     mask,
		Unwarped: unwarped,
	}, nil
}

func pickBodyObject(objects []*visionpb.LocalizedObjectAnnotation) *visionpb.LocalizedObjectAnnotation {
	var best *visionpb.LocalizedObjectAnnotation
	for _, o := range objects {
		switch strings.ToLower(o.GetName()) {
		case "person", "arm", "leg", "hand", "skin":
			if best == nil || o.GetScore() > best.GetScore() {
				best = o
			}
		}
	}
	return best
}

func mapObjectToBodyPart(name string) string {
	switch strings.ToLower(name) {
	case "arm":
		return "forearm"
	case "leg":
		return "calf"
	case "hand":
		return "hand"
	default:
		return "torso"
	}
}

func normalizedRect(poly *visionpb.BoundingPoly, w, h int) (x0, y0, x1, y1 int) {
	verts := poly.GetNormalizedVertices()
	if len(verts) == 0 {
		return 0, 0, w, h
	}
	minX, minY, maxX, maxY := 1.0, 1.0, 0.0, 0.0
	for _, v := range verts {
		x, y := float64(v.GetX()), float64(v.GetY())
		if x < minX {
			minX = x
		}
		if y < minY {
			minY = y
		}
		if x > maxX {
			maxX = x
		}
		if y > maxY {
			maxY = y
		}
	}
	return int(minX * float64(w)), int(minY * float64(h)), int(maxX * float64(w)), int(maxY * float64(h))
}
