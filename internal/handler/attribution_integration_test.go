package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/movenbook/attribution-engine/internal/domain"
	"github.com/movenbook/attribution-engine/internal/service"
	"github.com/movenbook/attribution-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestAttributionIntegration_StartAttribution(t *testing.T) {
	t.Parallel()

	svc := &stubAttributionService{
		startFn: func(ctx context.Context, input service.StartInput) (*domain.Attribution, error) {
			if input.Category != "moving" {
				t.Fatalf("category = %s, want moving", input.Category)
			}
			return &domain.Attribution{
				ID:             "attr-created",
				BookingID:      input.BookingID,
				Category:       input.Category,
				Status:         domain.StatusBroadcasting,
				Lat:            input.Lat,
				Lon:            input.Lon,
				MaxRadiusKm:    input.MaxRadiusKm,
				BroadcastCount: 1,
			}, nil
		},
	}

	app := newAttributionTestApp(t, svc, nil)

	validBody := `{"bookingId":"booking-1","category":"Moving","lat":48.8566,"lon":2.3522,"maxRadiusKm":50}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/attributions", validBody)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["id"] != "attr-created" {
		t.Fatalf("id = %v, want attr-created", parsed["id"])
	}
	if parsed["status"] != domain.StatusBroadcasting.String() {
		t.Fatalf("status = %v, want %s", parsed["status"], domain.StatusBroadcasting.String())
	}

	missingCategoryBody := `{"bookingId":"booking-1","lat":48.8566,"lon":2.3522,"maxRadiusKm":50}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/attributions", missingCategoryBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing category", resp.StatusCode)
	}
}

func TestAttributionIntegration_StartAttributionValidationError(t *testing.T) {
	t.Parallel()

	svc := &stubAttributionService{
		startFn: func(ctx context.Context, input service.StartInput) (*domain.Attribution, error) {
			return nil, fmt.Errorf("%w: max radius must be positive", domain.ErrValidation)
		},
	}

	app := newAttributionTestApp(t, svc, nil)

	body := `{"bookingId":"booking-1","category":"moving","lat":48.8566,"lon":2.3522,"maxRadiusKm":0}`
	resp, _ := performRequest(t, app, http.MethodPost, "/v1/attributions", body)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAttributionIntegration_GetAttribution(t *testing.T) {
	t.Parallel()

	winner := "pro-2"
	reason := "too far"
	svc := &stubAttributionService{
		getStatusFn: func(ctx context.Context, id string) (*service.Snapshot, error) {
			if id != "attr-found" {
				return nil, fmt.Errorf("%w: attribution %s", domain.ErrNotFound, id)
			}
			return &service.Snapshot{
				Attribution: domain.Attribution{
					ID:                      "attr-found",
					BookingID:               "booking-1",
					Category:                "moving",
					Status:                  domain.StatusAccepted,
					AcceptedProfessionalID:  &winner,
					ExcludedProfessionalIDs: []string{"pro-1"},
					BroadcastCount:          1,
				},
				Responses: []domain.AttributionResponse{
					{ProfessionalID: "pro-1", Type: domain.ResponseRefused, Reason: &reason, RespondedAt: time.Now().UTC()},
					{ProfessionalID: "pro-2", Type: domain.ResponseAccepted, RespondedAt: time.Now().UTC()},
				},
			}, nil
		},
	}

	app := newAttributionTestApp(t, svc, nil)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/attributions/attr-found", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		ID                     string  `json:"id"`
		Status                 string  `json:"status"`
		AcceptedProfessionalID *string `json:"acceptedProfessionalId"`
		Responses              []struct {
			ProfessionalID string  `json:"professionalId"`
			Type           string  `json:"type"`
			Reason         *string `json:"reason"`
		} `json:"responses"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.AcceptedProfessionalID == nil || *parsed.AcceptedProfessionalID != "pro-2" {
		t.Fatalf("acceptedProfessionalId = %v, want pro-2", parsed.AcceptedProfessionalID)
	}
	if len(parsed.Responses) != 2 {
		t.Fatalf("responses = %d, want 2", len(parsed.Responses))
	}
	if parsed.Responses[0].Type != "REFUSED" || parsed.Responses[0].Reason == nil {
		t.Fatalf("first response = %+v, want refusal with reason", parsed.Responses[0])
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/attributions/not-exists", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAttributionIntegration_AcceptAttribution(t *testing.T) {
	t.Parallel()

	svc := &stubAttributionService{
		acceptFn: func(ctx context.Context, attributionID, professionalID string) (*service.ActionResult, error) {
			if professionalID == "pro-winner" {
				return &service.ActionResult{Success: true, Message: "mission accepted"}, nil
			}
			return &service.ActionResult{Success: false, Message: service.MsgMissionUnavailable}, nil
		},
	}

	app := newAttributionTestApp(t, svc, nil)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/attributions/attr-1/accept", `{"professionalId":"pro-winner"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed actionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if !parsed.Success {
		t.Fatal("expected a winning accept")
	}

	resp, body = performRequest(t, app, http.MethodPost, "/v1/attributions/attr-1/accept", `{"professionalId":"pro-late"}`)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409 for a lost race, body=%s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Success || parsed.Message != service.MsgMissionUnavailable {
		t.Fatalf("result = %+v, want stale-action message", parsed)
	}
}

func TestAttributionIntegration_AcceptRetriesOnceOnStoreOutage(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	svc := &stubAttributionService{
		acceptFn: func(ctx context.Context, attributionID, professionalID string) (*service.ActionResult, error) {
			if calls.Add(1) == 1 {
				return nil, fmt.Errorf("%w: connection reset", domain.ErrDataUnavailable)
			}
			return &service.ActionResult{Success: true, Message: "mission accepted"}, nil
		},
	}

	app := newAttributionTestApp(t, svc, nil)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/attributions/attr-1/accept", `{"professionalId":"pro-1"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 after retry, body=%s", resp.StatusCode, string(body))
	}
	if calls.Load() != 2 {
		t.Fatalf("accept calls = %d, want 2", calls.Load())
	}
}

func TestAttributionIntegration_AcceptStoreOutagePersists(t *testing.T) {
	t.Parallel()

	svc := &stubAttributionService{
		acceptFn: func(ctx context.Context, attributionID, professionalID string) (*service.ActionResult, error) {
			return nil, fmt.Errorf("%w: connection reset", domain.ErrDataUnavailable)
		},
	}

	app := newAttributionTestApp(t, svc, nil)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/attributions/attr-1/accept", `{"professionalId":"pro-1"}`)
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestAttributionIntegration_RefuseAttribution(t *testing.T) {
	t.Parallel()

	svc := &stubAttributionService{
		refuseFn: func(ctx context.Context, attributionID, professionalID string, reason *string) (*service.ActionResult, error) {
			if reason == nil || *reason != "fully booked" {
				t.Fatalf("reason = %v, want fully booked", reason)
			}
			return &service.ActionResult{Success: true, Message: "refusal recorded"}, nil
		},
	}

	app := newAttributionTestApp(t, svc, nil)

	body := `{"professionalId":"pro-1","reason":"fully booked"}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/attributions/attr-1/refuse", body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}
}

func TestAttributionIntegration_CancelAttribution(t *testing.T) {
	t.Parallel()

	svc := &stubAttributionService{
		cancelFn: func(ctx context.Context, attributionID, professionalID string, reason *string) (*service.ActionResult, error) {
			if professionalID == "pro-winner" {
				return &service.ActionResult{Success: true, Message: "cancellation recorded, searching for a replacement"}, nil
			}
			return &service.ActionResult{Success: false, Message: service.MsgMissionUnavailable}, nil
		},
	}

	app := newAttributionTestApp(t, svc, nil)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/attributions/attr-1/cancel", `{"professionalId":"pro-winner"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/attributions/attr-1/cancel", `{"professionalId":"pro-other"}`)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409 for a non-winner cancel", resp.StatusCode)
	}
}

func TestAttributionIntegration_ExpireAttribution(t *testing.T) {
	t.Parallel()

	svc := &stubAttributionService{
		expireFn: func(ctx context.Context, attributionID string) (bool, error) {
			return attributionID == "attr-open", nil
		},
	}

	app := newAttributionTestApp(t, svc, nil)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/attributions/attr-open/expire", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["expired"] != true {
		t.Fatalf("expired = %v, want true", parsed["expired"])
	}

	resp, body = performRequest(t, app, http.MethodPost, "/v1/attributions/attr-closed/expire", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["expired"] != false {
		t.Fatalf("expired = %v, want false for a closed attribution", parsed["expired"])
	}
}

func TestAttributionIntegration_CallbackLimiterApplies(t *testing.T) {
	t.Parallel()

	svc := &stubAttributionService{
		acceptFn: func(ctx context.Context, attributionID, professionalID string) (*service.ActionResult, error) {
			return &service.ActionResult{Success: true, Message: "mission accepted"}, nil
		},
		getStatusFn: func(ctx context.Context, id string) (*service.Snapshot, error) {
			return &service.Snapshot{Attribution: domain.Attribution{ID: id, Status: domain.StatusBroadcasting}}, nil
		},
	}

	limiter := func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded")
	}

	app := newAttributionTestApp(t, svc, limiter)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/attributions/attr-1/accept", `{"professionalId":"pro-1"}`)
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 on throttled callback", resp.StatusCode)
	}

	// Read routes are not throttled.
	resp, _ = performRequest(t, app, http.MethodGet, "/v1/attributions/attr-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 for unthrottled read", resp.StatusCode)
	}
}

func TestPenaltyIntegration_ListAndLift(t *testing.T) {
	t.Parallel()

	lifted := make([]string, 0, 1)
	svc := &stubPenaltyService{
		recordsForFn: func(ctx context.Context, professionalID string) ([]domain.PenaltyRecord, error) {
			return []domain.PenaltyRecord{
				{ProfessionalID: professionalID, Category: "moving", ConsecutiveRefusals: 2, TotalRefusals: 5, Blacklisted: true},
				{ProfessionalID: professionalID, Category: "cleaning", ConsecutiveRefusals: 0, TotalRefusals: 1},
			}, nil
		},
		liftFn: func(ctx context.Context, professionalID string, category domain.Category) error {
			lifted = append(lifted, professionalID+":"+category.String())
			return nil
		},
	}

	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	if err := RegisterPenaltyRoutes(app, svc); err != nil {
		t.Fatalf("RegisterPenaltyRoutes() error = %v", err)
	}

	resp, body := performRequest(t, app, http.MethodGet, "/v1/professionals/pro-1/penalties", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var parsed struct {
		Penalties []penaltyRecordResponse `json:"penalties"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Penalties) != 2 {
		t.Fatalf("penalties = %d, want 2", len(parsed.Penalties))
	}
	if !parsed.Penalties[0].Blacklisted {
		t.Fatal("expected the moving record to be blacklisted")
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/professionals/pro-1/penalties/moving/lift", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(lifted) != 1 || lifted[0] != "pro-1:moving" {
		t.Fatalf("lifted = %v, want [pro-1:moving]", lifted)
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sql.OpenDB(stubConnector{}), newStubRedisClient(nil))

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
	})
}

type stubAttributionService struct {
	startFn     func(ctx context.Context, input service.StartInput) (*domain.Attribution, error)
	acceptFn    func(ctx context.Context, attributionID, professionalID string) (*service.ActionResult, error)
	refuseFn    func(ctx context.Context, attributionID, professionalID string, reason *string) (*service.ActionResult, error)
	cancelFn    func(ctx context.Context, attributionID, professionalID string, reason *string) (*service.ActionResult, error)
	expireFn    func(ctx context.Context, attributionID string) (bool, error)
	getStatusFn func(ctx context.Context, attributionID string) (*service.Snapshot, error)
}

func (s *stubAttributionService) Start(ctx context.Context, input service.StartInput) (*domain.Attribution, error) {
	if s.startFn != nil {
		return s.startFn(ctx, input)
	}
	return nil, errors.New("not implemented")
}

func (s *stubAttributionService) Accept(ctx context.Context, attributionID, professionalID string) (*service.ActionResult, error) {
	if s.acceptFn != nil {
		return s.acceptFn(ctx, attributionID, professionalID)
	}
	return nil, errors.New("not implemented")
}

func (s *stubAttributionService) Refuse(ctx context.Context, attributionID, professionalID string, reason *string) (*service.ActionResult, error) {
	if s.refuseFn != nil {
		return s.refuseFn(ctx, attributionID, professionalID, reason)
	}
	return nil, errors.New("not implemented")
}

func (s *stubAttributionService) CancelAfterAccept(ctx context.Context, attributionID, professionalID string, reason *string) (*service.ActionResult, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, attributionID, professionalID, reason)
	}
	return nil, errors.New("not implemented")
}

func (s *stubAttributionService) Expire(ctx context.Context, attributionID string) (bool, error) {
	if s.expireFn != nil {
		return s.expireFn(ctx, attributionID)
	}
	return false, errors.New("not implemented")
}

func (s *stubAttributionService) GetStatus(ctx context.Context, attributionID string) (*service.Snapshot, error) {
	if s.getStatusFn != nil {
		return s.getStatusFn(ctx, attributionID)
	}
	return nil, fmt.Errorf("%w: attribution %s", domain.ErrNotFound, attributionID)
}

type stubPenaltyService struct {
	recordsForFn func(ctx context.Context, professionalID string) ([]domain.PenaltyRecord, error)
	liftFn       func(ctx context.Context, professionalID string, category domain.Category) error
}

func (s *stubPenaltyService) RecordsFor(ctx context.Context, professionalID string) ([]domain.PenaltyRecord, error) {
	if s.recordsForFn != nil {
		return s.recordsForFn(ctx, professionalID)
	}
	return nil, nil
}

func (s *stubPenaltyService) LiftManually(ctx context.Context, professionalID string, category domain.Category) error {
	if s.liftFn != nil {
		return s.liftFn(ctx, professionalID, category)
	}
	return nil
}

func newAttributionTestApp(t *testing.T, svc AttributionService, callbackLimiter fiber.Handler) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterAttributionRoutes(app, svc, callbackLimiter); err != nil {
		t.Fatalf("RegisterAttributionRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") {
			if h.pingErr != nil {
				cmd.SetErr(h.pingErr)
				return h.pingErr
			}
			cmd.SetErr(nil)
			return nil
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
