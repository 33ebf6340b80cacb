package services

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/inkflowhq/inkflow-backend/internal/logger"
	"github.com/inkflowhq/inkflow-backend/internal/repos"
)

// The postgres schema uses uuid_generate_v4() defaults, which sqlite
// cannot parse, so the test schema is declared by hand. Every insert in
// the codebase supplies its own IDs anyway.
var testSchema = []string{
	`CREATE TABLE concierge_session (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		artist_id TEXT,
		stage TEXT NOT NULL DEFAULT 'discovery',
		brief TEXT,
		intent_flags TEXT,
		readiness_score REAL NOT NULL DEFAULT 0,
		sketch_offer_declined_count INTEGER NOT NULL DEFAULT 0,
		sketch_offer_cooldown_until DATETIME,
		max_offers_reached BOOLEAN NOT NULL DEFAULT 0,
		message_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME,
		deleted_at DATETIME
	)`,
	`CREATE TABLE concierge_message (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'client',
		content TEXT,
		intent TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE vision_asset (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		asset_type TEXT NOT NULL,
		storage_key TEXT NOT NULL,
		file_url TEXT,
		mime_type TEXT,
		size_bytes INTEGER,
		status TEXT NOT NULL DEFAULT 'uploaded',
		quality_score REAL NOT NULL DEFAULT 0,
		quality_issues TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE vision_extraction (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		status TEXT NOT NULL,
		body_part TEXT,
		quality REAL NOT NULL DEFAULT 0,
		cutout_key TEXT,
		mask_key TEXT,
		unwarped_key TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE offer_policy (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL UNIQUE,
		single_readiness_threshold REAL NOT NULL DEFAULT 0.7,
		sleeve_readiness_threshold REAL NOT NULL DEFAULT 0.75,
		preview_request_threshold REAL NOT NULL DEFAULT 0.5,
		sleeve_preview_request_threshold REAL NOT NULL DEFAULT 0.55,
		cooldown_minutes INTEGER NOT NULL DEFAULT 45,
		min_references_single INTEGER NOT NULL DEFAULT 2,
		min_references_sleeve INTEGER NOT NULL DEFAULT 5,
		max_offers_per_session INTEGER NOT NULL DEFAULT 3,
		variants_per_batch INTEGER NOT NULL DEFAULT 6,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE workspace_settings (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL UNIQUE,
		flags TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE concept_variant (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		job_id TEXT,
		style_key TEXT NOT NULL,
		prompt TEXT,
		provider TEXT NOT NULL,
		image_key TEXT NOT NULL,
		image_url TEXT,
		style_alignment REAL NOT NULL DEFAULT 0,
		clarity REAL NOT NULL DEFAULT 0,
		uniqueness REAL NOT NULL DEFAULT 0,
		ar_fitness REAL NOT NULL DEFAULT 0,
		passed BOOLEAN NOT NULL DEFAULT 0,
		chosen BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE final_sketch (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		variant_id TEXT NOT NULL,
		line_art_key TEXT NOT NULL,
		overlay_key TEXT NOT NULL,
		vector_key TEXT,
		anchor_points TEXT,
		default_opacity REAL NOT NULL DEFAULT 0.8,
		recommended_size_cm REAL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE ar_pack (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		sketch_id TEXT NOT NULL,
		overlay_key TEXT NOT NULL,
		anchors TEXT,
		shader_params TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE job_run (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		session_id TEXT,
		job_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		payload TEXT,
		result TEXT,
		error TEXT,
		last_error_at DATETIME,
		locked_at DATETIME,
		heartbeat_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for _, stmt := range testSchema {
		if err := gdb.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return gdb
}

func newTestMedia(t *testing.T) MediaStore {
	t.Helper()
	media, err := NewLocalMediaStore(logger.NewNop(), t.TempDir())
	if err != nil {
		t.Fatalf("local media store: %v", err)
	}
	return media
}

// testEnv wires the full service graph against sqlite, deterministic
// providers and a temp-dir media store.
type testEnv struct {
	db          *gorm.DB
	media       MediaStore
	workspaces  WorkspaceService
	jobs        JobService
	vision      VisionService
	concierge   ConciergeService
	concepts    ConceptService
	sketches    SketchService
	sessionRepo repos.ConciergeSessionRepo
	messageRepo repos.ConciergeMessageRepo
	assetRepo   repos.VisionAssetRepo
	variantRepo repos.ConceptVariantRepo
	jobRepo     repos.JobRunRepo
	workspaceID uuid.UUID
}

// liveConcept is nil in most tests; pass one to exercise the fallback
// path.
func newTestEnv(t *testing.T, liveConcept ConceptProvider) *testEnv {
	t.Helper()
	log := logger.NewNop()
	gdb := newTestDB(t)
	media := newTestMedia(t)

	sessionRepo := repos.NewConciergeSessionRepo(gdb, log)
	messageRepo := repos.NewConciergeMessageRepo(gdb, log)
	assetRepo := repos.NewVisionAssetRepo(gdb, log)
	policyRepo := repos.NewOfferPolicyRepo(gdb, log)
	settingsRepo := repos.NewWorkspaceSettingsRepo(gdb, log)
	variantRepo := repos.NewConceptVariantRepo(gdb, log)
	sketchRepo := repos.NewFinalSketchRepo(gdb, log)
	arPackRepo := repos.NewARPackRepo(gdb, log)
	jobRepo := repos.NewJobRunRepo(gdb, log)

	workspaces := NewWorkspaceService(gdb, log, policyRepo, settingsRepo, builtinPolicyDefaults())
	selector := NewProviderSelector(log, workspaces,
		NewDeterministicVisionProvider(log), nil,
		NewDeterministicConceptProvider(log), liveConcept)
	jobs := NewJobService(gdb, log, jobRepo, nil)
	vision := NewVisionService(gdb, log, assetRepo, media, selector)
	locks := NewSessionLocks()

	return &testEnv{
		db:          gdb,
		media:       media,
		workspaces:  workspaces,
		jobs:        jobs,
		vision:      vision,
		concierge:   NewConciergeService(gdb, log, sessionRepo, messageRepo, workspaces, vision, NewKeywordIntentClassifier(), nil, locks),
		concepts:    NewConceptService(gdb, log, sessionRepo, variantRepo, jobs, workspaces, selector, media, nil, locks),
		sketches:    NewSketchService(gdb, log, sessionRepo, variantRepo, sketchRepo, arPackRepo, assetRepo, jobs, media, nil, locks),
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		assetRepo:   assetRepo,
		variantRepo: variantRepo,
		jobRepo:     jobRepo,
		workspaceID: uuid.New(),
	}
}

// testPNG renders a small valid PNG whose bytes vary with seed.
func testPNG(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 320))
	for y := 0; y < 320; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x) + seed, G: uint8(y), B: seed, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}
