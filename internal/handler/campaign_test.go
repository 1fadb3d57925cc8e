package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brandpilot/backend/internal/domain"
	"github.com/brandpilot/backend/internal/eventbus"
	"github.com/brandpilot/backend/internal/model"
	"github.com/brandpilot/backend/internal/pkg/embedder"
	"github.com/brandpilot/backend/internal/pkg/retry"
	"github.com/brandpilot/backend/internal/repository"
	"github.com/brandpilot/backend/internal/service"
	"github.com/brandpilot/backend/internal/service/briefsource"
	"github.com/brandpilot/backend/internal/service/generation"
	"github.com/brandpilot/backend/internal/service/guideline"
	"github.com/brandpilot/backend/internal/service/planner"
	"github.com/brandpilot/backend/internal/service/regeneration"
	"github.com/brandpilot/backend/internal/service/report"
	"github.com/brandpilot/backend/internal/service/validator"
	"github.com/brandpilot/backend/internal/subscriber"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type textFunc func(ctx context.Context, plan domain.GenerationPlan) (string, error)

func (f textFunc) GenerateText(ctx context.Context, plan domain.GenerationPlan) (string, error) {
	return f(ctx, plan)
}

type testServer struct {
	router *gin.Engine
	index  *guideline.Index
	bus    *eventbus.CampaignEventBus
}

func newTestServer(t *testing.T, text generation.TextGenerator) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle error: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(&model.Campaign{}, &model.Attempt{}, &model.GuidelineDocument{}, &model.GuidelineChunk{}); err != nil {
		t.Fatalf("migrate error: %v", err)
	}

	if text == nil {
		text = generation.NewOfflineTextGenerator()
	}
	index := guideline.NewIndex(repository.NewGuidelineRepository(db), embedder.NewHashEmbedder(128), guideline.NewChunker(500, 20))
	v := validator.New(index, validator.DefaultConfig())
	store := repository.NewCampaignRepository(db)
	bus := eventbus.NewCampaignEventBus()
	ctrl := regeneration.NewController(planner.New(""), text, generation.NewOfflineImageGenerator(nil), v, store, bus,
		regeneration.Config{MaxRetries: 3, Infra: retry.Policy{MaxAttempts: 1}})
	campaigns := service.NewCampaignService(store, ctrl, v, report.NewExporter())

	ch := NewCampaignHandler(campaigns)
	gh := NewGuidelineHandler(index)
	bh := NewBriefHandler(briefsource.NewParser())
	eh := NewEventHandler(campaigns, bus)
	runs := subscriber.NewCampaignEventSubscriber()
	runs.Register(bus)
	hh := NewHealthHandler(campaigns, index, runs)

	r := gin.New()
	r.GET("/health", hh.Health)
	r.POST("/validate", ch.Validate)
	r.POST("/briefs/parse", bh.Parse)
	r.POST("/campaigns", ch.Create)
	r.GET("/campaigns", ch.List)
	r.GET("/campaigns/:id", ch.Get)
	r.POST("/campaigns/:id/regenerate", ch.Regenerate)
	r.POST("/campaigns/:id/resume", ch.Resume)
	r.POST("/campaigns/:id/cancel", ch.Cancel)
	r.GET("/campaigns/:id/lineage", ch.Lineage)
	r.GET("/campaigns/:id/report", ch.Report)
	r.GET("/campaigns/:id/events", eh.Stream)
	r.POST("/guidelines", gh.Ingest)
	r.GET("/guidelines", gh.List)
	r.GET("/guidelines/search", gh.Search)
	r.DELETE("/guidelines/:doc_id", gh.Delete)

	return &testServer{router: r, index: index, bus: bus}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body error: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response error: %v, body=%s", err, w.Body.String())
	}
	return out
}

func (s *testServer) ingestVoiceGuide(t *testing.T) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/guidelines", map[string]string{
		"id":   "fitnow-voice",
		"text": "Never use superlatives. Always mention the brand name.",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest failed: %d %s", w.Code, w.Body.String())
	}
}

var fitnowBrief = map[string]string{
	"campaign_name":   "Summer Fitness Challenge",
	"brand_name":      "FitNow",
	"objective":       "Drive sign-ups",
	"target_audience": "young professionals",
}

func TestCampaignHandlerCreateAccepted(t *testing.T) {
	s := newTestServer(t, nil)
	s.ingestVoiceGuide(t)

	w := s.do(t, http.MethodPost, "/campaigns", fitnowBrief)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["status"] != "accepted" {
		t.Fatalf("expected accepted, got %v", body["status"])
	}
	attempt, ok := body["attempt"].(map[string]any)
	if !ok || attempt["revision"] != float64(1) {
		t.Fatalf("unexpected attempt: %v", body["attempt"])
	}

	id := body["campaign_id"].(string)
	w = s.do(t, http.MethodGet, "/campaigns/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	got := decode(t, w)
	if attempts := got["attempts"].([]any); len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
}

func TestCampaignHandlerExhaustedIsOK(t *testing.T) {
	superlatives := textFunc(func(ctx context.Context, plan domain.GenerationPlan) (string, error) {
		return "FitNow is the best app ever", nil
	})
	s := newTestServer(t, superlatives)
	s.ingestVoiceGuide(t)

	w := s.do(t, http.MethodPost, "/campaigns", fitnowBrief)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["status"] != "exhausted" || body["error"] != "exhausted_retries" {
		t.Fatalf("unexpected body: status=%v error=%v", body["status"], body["error"])
	}
	feedback := body["feedback"].([]any)
	if len(feedback) != 3 {
		t.Fatalf("expected feedback for 3 attempts, got %d", len(feedback))
	}
	first := feedback[0].(map[string]any)
	if items := first["items"].([]any); len(items) == 0 {
		t.Fatalf("expected actionable feedback items")
	}
}

func TestCampaignHandlerGenerationFailedIs503(t *testing.T) {
	failing := textFunc(func(ctx context.Context, plan domain.GenerationPlan) (string, error) {
		return "", domain.ErrTransientAPI
	})
	s := newTestServer(t, failing)

	w := s.do(t, http.MethodPost, "/campaigns", fitnowBrief)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "generation_failed" || body["error"] != "generation_failed" {
		t.Fatalf("unexpected body: %v", body)
	}
	if _, ok := body["campaign"]; !ok {
		t.Fatalf("stalled response must carry the campaign")
	}
}

func TestCampaignHandlerMalformedBrief(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/campaigns", map[string]string{"campaign_name": "No brand"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	w = s.do(t, http.MethodPost, "/campaigns", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestCampaignHandlerAsyncWithoutOrchestrator(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/campaigns?async=true", fitnowBrief)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
}

func TestCampaignHandlerRegenerateAndLineage(t *testing.T) {
	s := newTestServer(t, nil)

	first := decode(t, s.do(t, http.MethodPost, "/campaigns", fitnowBrief))
	id := first["campaign_id"].(string)

	w := s.do(t, http.MethodPost, "/campaigns/"+id+"/regenerate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	second := decode(t, w)
	if second["campaign_id"] == id {
		t.Fatalf("regenerate must create a new campaign id")
	}
	campaign := second["campaign"].(map[string]any)
	if campaign["parent_id"] != id {
		t.Fatalf("expected parent %s, got %v", id, campaign["parent_id"])
	}

	w = s.do(t, http.MethodGet, "/campaigns/"+id+"/lineage", nil)
	var lineage []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &lineage); err != nil {
		t.Fatalf("decode lineage error: %v", err)
	}
	if len(lineage) != 2 {
		t.Fatalf("expected 2 campaigns in lineage, got %d", len(lineage))
	}

	w = s.do(t, http.MethodPost, "/campaigns/missing/regenerate", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestCampaignHandlerResumeTerminalConflict(t *testing.T) {
	s := newTestServer(t, nil)
	first := decode(t, s.do(t, http.MethodPost, "/campaigns", fitnowBrief))

	w := s.do(t, http.MethodPost, "/campaigns/"+first["campaign_id"].(string)+"/resume", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", w.Code)
	}
}

func TestCampaignHandlerListAndReport(t *testing.T) {
	s := newTestServer(t, nil)
	first := decode(t, s.do(t, http.MethodPost, "/campaigns", fitnowBrief))
	id := first["campaign_id"].(string)

	list := decode(t, s.do(t, http.MethodGet, "/campaigns?limit=5", nil))
	if list["total"] != float64(1) {
		t.Fatalf("expected total 1, got %v", list["total"])
	}

	w := s.do(t, http.MethodGet, "/campaigns/"+id+"/report?download=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "attachment") {
		t.Fatalf("expected attachment disposition")
	}
	if !strings.Contains(w.Body.String(), "Summer Fitness Challenge") {
		t.Fatalf("report misses campaign name")
	}
}

func TestCampaignHandlerCancelWithoutJob(t *testing.T) {
	s := newTestServer(t, nil)
	first := decode(t, s.do(t, http.MethodPost, "/campaigns", fitnowBrief))

	w := s.do(t, http.MethodPost, "/campaigns/"+first["campaign_id"].(string)+"/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", w.Code)
	}
	w = s.do(t, http.MethodPost, "/campaigns/missing/cancel", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestValidateHandler(t *testing.T) {
	s := newTestServer(t, nil)
	s.ingestVoiceGuide(t)

	w := s.do(t, http.MethodPost, "/validate", map[string]any{
		"draft": map[string]string{"text": "FitNow: the best fitness app ever!"},
		"brief": map[string]string{"brand_name": "FitNow"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	result := decode(t, w)
	if result["pass"] != false {
		t.Fatalf("superlative copy must not pass")
	}
	if citations := result["citations"].([]any); len(citations) == 0 {
		t.Fatalf("expected citations")
	}

	w = s.do(t, http.MethodPost, "/validate", map[string]any{"draft": map[string]string{"text": "x"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without brand, got %d", w.Code)
	}
}
