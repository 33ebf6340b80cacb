package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/repos"
	"github.com/inkflowhq/inkflow-backend/internal/types"
)

const (
	JobTypeSketchFinalize = types.JobTypeSketch
	JobTypeARPackBuild    = types.JobTypeARPack
)

// AnchorPoint is a normalized position on the sketch used to pin the
// overlay in AR.
type AnchorPoint struct {
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type SketchService interface {
	// FinalizeSketch marks the variant as the session's single choice and
	// derives line art, overlay and vector artifacts from it.
	FinalizeSketch(ctx context.Context, sessionID, variantID uuid.UUID) (*types.FinalSketch, error)

	// BuildARPack composites the sketch overlay onto the client's
	// placement photo. Hard precondition: a placement photo was accepted.
	BuildARPack(ctx context.Context, sessionID, sketchID uuid.UUID) (*types.ARPack, error)

	GetSketch(ctx context.Context, sketchID uuid.UUID) (*types.FinalSketch, error)
}

type sketchService struct {
	db          *gorm.DB
	log         *logger.Logger
	sessionRepo repos.ConciergeSessionRepo
	variantRepo repos.ConceptVariantRepo
	sketchRepo  repos.FinalSketchRepo
	arPackRepo  repos.ARPackRepo
	assetRepo   repos.VisionAssetRepo
	jobs        JobService
	media       MediaStore
	notify      StudioNotifier
	locks       *SessionLocks
}

func NewSketchService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sessionRepo repos.ConciergeSessionRepo,
	variantRepo repos.ConceptVariantRepo,
	sketchRepo repos.FinalSketchRepo,
	arPackRepo repos.ARPackRepo,
	assetRepo repos.VisionAssetRepo,
	jobs JobService,
	media MediaStore,
	notify StudioNotifier,
	locks *SessionLocks,
) SketchService {
	return &sketchService{
		db:          db,
		log:         baseLog.With("service", "SketchService"),
		sessionRepo: sessionRepo,
		variantRepo: variantRepo,
		sketchRepo:  sketchRepo,
		arPackRepo:  arPackRepo,
		assetRepo:   assetRepo,
		jobs:        jobs,
		media:       media,
		notify:      notify,
		locks:       locks,
	}
}

func (s *sketchService) FinalizeSketch(ctx context.Context, sessionID, variantID uuid.UUID) (*types.FinalSketch, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	variant, err := s.variantRepo.GetByID(ctx, nil, variantID)
	if err != nil {
		return nil, err
	}
	if variant == nil || variant.SessionID != sessionID {
		return nil, ErrVariantNotFound
	}

	var sketch *types.FinalSketch
	_, _, err = s.jobs.RunInline(ctx, session.WorkspaceID, &session.ID, JobTypeSketchFinalize,
		map[string]any{"session_id": sessionID.String(), "variant_id": variantID.String()},
		func(ctx context.Context, _ *types.JobRun) (map[string]any, error) {
			built, buildErr := s.buildSketch(ctx, session, variant)
			if buildErr != nil {
				return nil, buildErr
			}
			sketch = built
			return map[string]any{"sketch_id": built.ID.String()}, nil
		})
	if err != nil {
		return nil, err
	}

	next, err := NextStage(session.Stage, TransitionSketchFinalized)
	if err != nil {
		return sketch, err
	}
	if next != session.Stage {
		if err := s.sessionRepo.UpdateFields(ctx, nil, session.ID, map[string]interface{}{"stage": next}); err != nil {
			return sketch, err
		}
		if s.notify != nil {
			s.notify.StageChanged(session.ID, session.Stage, next)
		}
	}
	if s.notify != nil {
		s.notify.SketchFinalized(session.ID, sketch)
	}
	return sketch, nil
}

func (s *sketchService) buildSketch(ctx context.Context, session *types.ConciergeSession, variant *types.ConceptVariant) (*types.FinalSketch, error) {
	if err := s.variantRepo.ChooseExactlyOne(ctx, nil, session.ID, variant.ID); err != nil {
		return nil, fmt.Errorf("choose variant: %w", err)
	}

	raw, err := s.media.Get(ctx, variant.ImageKey)
	if err != nil {
		return nil, fmt.Errorf("load variant image: %w", err)
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode variant image: %w", err)
	}

	lineArt := deriveLineArt(src)
	lineArtPNG, err := encodeRawPNG(lineArt)
	if err != nil {
		return nil, err
	}
	overlayPNG, err := encodeRawPNG(scaleNRGBA(lineArt, 1024, 1024))
	if err != nil {
		return nil, err
	}
	vectorSVG := wrapSVG(overlayPNG, 1024, 1024)

	base := fmt.Sprintf("sessions/%s/sketches/%s", session.ID, variant.ID)
	lineArtKey := base + "/line_art.png"
	overlayKey := base + "/overlay.png"
	vectorKey := base + "/sketch.svg"
	if err := s.media.Put(ctx, lineArtKey, bytes.NewReader(lineArtPNG)); err != nil {
		return nil, fmt.Errorf("store line art: %w", err)
	}
	if err := s.media.Put(ctx, overlayKey, bytes.NewReader(overlayPNG)); err != nil {
		return nil, fmt.Errorf("store overlay: %w", err)
	}
	if err := s.media.Put(ctx, vectorKey, bytes.NewReader(vectorSVG)); err != nil {
		return nil, fmt.Errorf("store vector: %w", err)
	}

	anchorsJSON, _ := json.Marshal(defaultAnchors())
	brief := session.Brief.Data()

	sketch := &types.FinalSketch{
		ID:                uuid.New(),
		SessionID:         session.ID,
		VariantID:         variant.ID,
		LineArtKey:        lineArtKey,
		OverlayKey:        overlayKey,
		VectorKey:         vectorKey,
		AnchorPoints:      datatypes.JSON(anchorsJSON),
		DefaultOpacity:    0.8,
		RecommendedSizeCm: recommendedSizeCm(brief),
	}
	if _, err := s.sketchRepo.Create(ctx, nil, sketch); err != nil {
		return nil, fmt.Errorf("persist sketch: %w", err)
	}
	return sketch, nil
}

func (s *sketchService) BuildARPack(ctx context.Context, sessionID, sketchID uuid.UUID) (*types.ARPack, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := s.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if !session.Brief.Data().PlacementPhotoPresent {
		return nil, ErrPlacementPhotoRequired
	}
	sketch, err := s.sketchRepo.GetByID(ctx, nil, sketchID)
	if err != nil {
		return nil, err
	}
	if sketch == nil || sketch.SessionID != sessionID {
		return nil, ErrSketchNotFound
	}

	var pack *types.ARPack
	_, _, err = s.jobs.RunInline(ctx, session.WorkspaceID, &session.ID, JobTypeARPackBuild,
		map[string]any{"session_id": sessionID.String(), "sketch_id": sketchID.String()},
		func(ctx context.Context, _ *types.JobRun) (map[string]any, error) {
			built, buildErr := s.buildPack(ctx, session, sketch)
			if buildErr != nil {
				return nil, buildErr
			}
			pack = built
			return map[string]any{"ar_pack_id": built.ID.String()}, nil
		})
	if err != nil {
		return nil, err
	}
	if s.notify != nil {
		s.notify.ARPackReady(session.ID, pack)
	}
	return pack, nil
}

func (s *sketchService) buildPack(ctx context.Context, session *types.ConciergeSession, sketch *types.FinalSketch) (*types.ARPack, error) {
	photo, err := s.latestPlacementPhoto(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	photoRaw, err := s.media.Get(ctx, photo.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load placement photo: %w", err)
	}
	photoImg, _, err := image.Decode(bytes.NewReader(photoRaw))
	if err != nil {
		return nil, fmt.Errorf("decode placement photo: %w", err)
	}
	overlayRaw, err := s.media.Get(ctx, sketch.OverlayKey)
	if err != nil {
		return nil, fmt.Errorf("load sketch overlay: %w", err)
	}
	overlayImg, _, err := image.Decode(bytes.NewReader(overlayRaw))
	if err != nil {
		return nil, fmt.Errorf("decode sketch overlay: %w", err)
	}

	composite := compositeOverlay(photoImg, overlayImg)
	compositePNG, err := encodeRawPNG(composite)
	if err != nil {
		return nil, err
	}
	overlayKey := fmt.Sprintf("sessions/%s/ar/%s/composite.png", session.ID, sketch.ID)
	if err := s.media.Put(ctx, overlayKey, bytes.NewReader(compositePNG)); err != nil {
		return nil, fmt.Errorf("store AR composite: %w", err)
	}

	shader, _ := json.Marshal(map[string]any{
		"opacity":         sketch.DefaultOpacity,
		"blend_mode":      "multiply",
		"skin_tone_adapt": true,
	})
	pack := &types.ARPack{
		ID:           uuid.New(),
		SessionID:    session.ID,
		SketchID:     sketch.ID,
		OverlayKey:   overlayKey,
		Anchors:      sketch.AnchorPoints,
		ShaderParams: datatypes.JSON(shader),
	}
	if _, err := s.arPackRepo.Create(ctx, nil, pack); err != nil {
		return nil, fmt.Errorf("persist AR pack: %w", err)
	}
	return pack, nil
}

func (s *sketchService) latestPlacementPhoto(ctx context.Context, sessionID uuid.UUID) (*types.VisionAsset, error) {
	assets, err := s.assetRepo.ListBySession(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	var latest *types.VisionAsset
	for _, a := range assets {
		if a.AssetType == types.AssetTypePlacementPhoto && a.Status == types.AssetStatusAccepted {
			latest = a
		}
	}
	if latest == nil {
		return nil, ErrPlacementPhotoRequired
	}
	return latest, nil
}

func (s *sketchService) GetSketch(ctx context.Context, sketchID uuid.UUID) (*types.FinalSketch, error) {
	sketch, err := s.sketchRepo.GetByID(ctx, nil, sketchID)
	if err != nil {
		return nil, err
	}
	if sketch == nil {
		return nil, ErrSketchNotFound
	}
	return sketch, nil
}

// deriveLineArt thresholds the image into opaque ink on a transparent
// background.
func deriveLineArt(src image.Image) *image.NRGBA {
	b := src.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := src.At(x, y).RGBA()
			// Perceptual luminance, 16-bit channels.
			lum := (299*r + 587*g + 114*bl) / 1000
			if lum < 0x7000 {
				out.SetNRGBA(x-b.Min.X, y-b.Min.Y, color.NRGBA{A: 255})
			}
		}
	}
	return out
}

func scaleNRGBA(src *image.NRGBA, w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

// encodeRawPNG keeps the alpha channel, unlike the gg-backed encoder.
func encodeRawPNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func wrapSVG(pngBytes []byte, w, h int) []byte {
	b64 := base64.StdEncoding.EncodeToString(pngBytes)
	svg := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d"><image width="%d" height="%d" href="data:image/png;base64,%s"/></svg>`,
		w, h, w, h, w, h, b64,
	)
	return []byte(svg)
}

func defaultAnchors() []AnchorPoint {
	return []AnchorPoint{
		{Name: "center", X: 0.5, Y: 0.5},
		{Name: "top", X: 0.5, Y: 0.1},
		{Name: "bottom", X: 0.5, Y: 0.9},
	}
}

func recommendedSizeCm(brief types.DesignBrief) float64 {
	if brief.SizeCm > 0 {
		return brief.SizeCm
	}
	switch brief.SizeCategory {
	case "small":
		return 6
	case "medium":
		return 12
	case "large":
		return 20
	default:
		if brief.IsSleeve {
			return 35
		}
		return 10
	}
}

func compositeOverlay(photo, overlay image.Image) *image.NRGBA {
	pb := photo.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, pb.Dx(), pb.Dy()))
	draw.Draw(out, out.Bounds(), photo, pb.Min, draw.Src)

	// Overlay spans half the photo width, centered.
	ow := pb.Dx() / 2
	oh := ow * overlay.Bounds().Dy() / overlay.Bounds().Dx()
	if oh < 1 {
		oh = 1
	}
	scaled := image.NewNRGBA(image.Rect(0, 0, ow, oh))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), overlay, overlay.Bounds(), draw.Over, nil)

	x0 := (pb.Dx() - ow) / 2
	y0 := (pb.Dy() - oh) / 2
	draw.Draw(out, image.Rect(x0, y0, x0+ow, y0+oh), scaled, image.Point{}, draw.Over)
	return out
}
