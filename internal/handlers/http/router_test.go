package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"quickdowntime/internal/core/domain"
	"quickdowntime/internal/core/services"
	"quickdowntime/internal/infrastructure/analyzer"
	"quickdowntime/internal/infrastructure/blobstore"
	"quickdowntime/internal/infrastructure/monitoring"
	"quickdowntime/internal/infrastructure/queue"
	"quickdowntime/internal/infrastructure/repositories/memory"
	"quickdowntime/pkg/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	testOperator = &domain.User{ID: "op-1", Email: "op@plant.test", Role: domain.RoleOperator}
	testManager  = &domain.User{ID: "mgr-1", Email: "boss@plant.test", Role: domain.RoleManager}
)

// unavailableRepo fails every write so submissions fall back to the queue.
type unavailableRepo struct {
	*memory.DowntimeRepository
}

func (r unavailableRepo) Insert(ctx context.Context, d *domain.Downtime) (*domain.Downtime, error) {
	return nil, errors.New("dial tcp: connection refused")
}

type apiEnv struct {
	router    *gin.Engine
	repo      *memory.DowntimeRepository
	queue     *queue.FileQueue
	ingestion *services.IngestionService
	auth      services.AuthService
	uploadDir string
}

func newAPIEnv(t *testing.T, storeDown bool) *apiEnv {
	t.Helper()

	env := &apiEnv{
		repo:      memory.NewDowntimeRepository(),
		auth:      services.NewAuthService("test-secret", time.Hour, "quickdowntime-test"),
		uploadDir: t.TempDir(),
	}

	var err error
	env.queue, err = queue.NewFileQueueAt(t.TempDir(), nil)
	require.NoError(t, err)

	backend, err := storage.NewFileStorage(env.uploadDir)
	require.NoError(t, err)

	deps := services.IngestionDeps{
		Downtimes: env.repo,
		Analyses:  memory.NewAnalysisRepository(),
		Queue:     env.queue,
		Blobs:     blobstore.New(backend, "/uploads"),
		Analyzer:  analyzer.NewRulesAnalyzer(),
	}
	if storeDown {
		deps.Downtimes = unavailableRepo{env.repo}
	}

	reporting := services.NewReportingService(env.repo, analyzer.NewRulesAnalyzer(), services.ReportingOptions{}, nil)
	deps.Listener = reporting
	env.ingestion = services.NewIngestionService(deps, services.IngestionOptions{}, nil)

	checker := monitoring.NewHealthChecker()
	checker.AddRepositoryCheck(env.repo, time.Second)
	checker.AddQueueCheck(env.queue, time.Second)

	env.router = NewRouter(RouterDeps{
		Auth:           env.auth,
		Ingestion:      env.ingestion,
		Reporting:      reporting,
		Health:         checker,
		UploadDir:      env.uploadDir,
		MaxUploadBytes: 1 << 20,
		Logger:         zaptest.NewLogger(t).Sugar(),
	})
	return env
}

func (e *apiEnv) token(t *testing.T, user *domain.User) string {
	t.Helper()
	tok, err := e.auth.GenerateToken(user)
	require.NoError(t, err)
	return tok
}

func (e *apiEnv) do(t *testing.T, req *http.Request, user *domain.User) *httptest.ResponseRecorder {
	t.Helper()
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(t, user))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *apiEnv) seed(t *testing.T, machine, reason string, operator domain.UserID) *domain.Downtime {
	t.Helper()
	now := time.Now().UTC()
	d, err := e.repo.Insert(context.Background(), &domain.Downtime{
		MachineID:  machine,
		Reason:     reason,
		Category:   "Mechanical",
		OperatorID: operator,
		Status:     domain.StatusOpen,
		StartTime:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	require.NoError(t, err)
	return d
}

func jsonRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func multipartRequest(t *testing.T, path string, fields map[string]string, fileField, fileName string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, fileName)
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestOperatorLog_Multipart(t *testing.T) {
	env := newAPIEnv(t, false)

	req := multipartRequest(t, "/api/operator/log", map[string]string{
		"machine_id":       "M-12",
		"reason":           "Belt jam",
		"category":         "Mechanical",
		"duration_minutes": "15",
	}, "image", "jam.jpg", []byte{0xff, 0xd8, 0xff})

	w := env.do(t, req, testOperator)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "saved", body["status"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "M-12", data["machine_id"])
	assert.Equal(t, "op@plant.test", data["operator_email"])
	assert.Equal(t, "op-1", data["operator_id"])
	assert.True(t, strings.HasPrefix(data["image_path"].(string), "/uploads/images/img_"))
	assert.NotNil(t, body["ai_analysis"])
}

func TestOperatorLog_JSON(t *testing.T) {
	env := newAPIEnv(t, false)

	req := jsonRequest(http.MethodPost, "/api/operator/log", map[string]any{
		"machine_id":  "M-3",
		"reason":      "Sensor fault",
		"description": "Proximity sensor flickering",
	})
	w := env.do(t, req, testOperator)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored, err := env.repo.Query(context.Background(), domain.DowntimeFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "Sensor fault", stored[0].Reason)
	assert.Equal(t, "Uncategorized", stored[0].Category)
}

func TestOperatorLog_QueuedWhenStoreDown(t *testing.T) {
	env := newAPIEnv(t, true)

	req := jsonRequest(http.MethodPost, "/api/operator/log", map[string]any{
		"machine_id": "M-1",
		"reason":     "Power dip",
	})
	w := env.do(t, req, testOperator)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "queued", body["status"])
	assert.NotEmpty(t, body["queued_file"])

	pending, err := env.queue.ListPending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestOperatorLog_Rejections(t *testing.T) {
	env := newAPIEnv(t, false)

	t.Run("no token", func(t *testing.T) {
		w := env.do(t, jsonRequest(http.MethodPost, "/api/operator/log", map[string]any{"machine_id": "M-1"}), nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("manager token", func(t *testing.T) {
		w := env.do(t, jsonRequest(http.MethodPost, "/api/operator/log", map[string]any{"machine_id": "M-1"}), testManager)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "FORBIDDEN", decode(t, w)["error"])
	})

	t.Run("invalid machine id", func(t *testing.T) {
		w := env.do(t, jsonRequest(http.MethodPost, "/api/operator/log", map[string]any{"machine_id": "M 1;drop"}), testOperator)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_INPUT", decode(t, w)["error"])
	})

	t.Run("bad duration", func(t *testing.T) {
		req := multipartRequest(t, "/api/operator/log", map[string]string{
			"machine_id":       "M-1",
			"duration_minutes": "soon",
		}, "", "", nil)
		w := env.do(t, req, testOperator)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestNewRouter_WithoutLogger(t *testing.T) {
	auth := services.NewAuthService("test-secret", time.Hour, "")
	router := NewRouter(RouterDeps{Auth: auth})

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/management/kpis", nil))
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decode(t, w)["error"])
}

func TestNewRouter_SubmitLimitGuardsRecordCreation(t *testing.T) {
	auth := services.NewAuthService("test-secret", time.Hour, "")
	limited := func(c *gin.Context) { c.AbortWithStatus(http.StatusTooManyRequests) }
	router := NewRouter(RouterDeps{Auth: auth, SubmitLimit: limited})

	tok, err := auth.GenerateToken(testOperator)
	require.NoError(t, err)

	req := jsonRequest(http.MethodPost, "/api/operator/log", map[string]any{"machine_id": "M-1"})
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, jsonRequest(http.MethodPost, "/api/downtime/log-local", map[string]any{"machine_id": "M-1"}))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/operator/active", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code, "other routes skip the submit limit")
}

func TestOperatorListsAndResolve(t *testing.T) {
	env := newAPIEnv(t, false)
	mine := env.seed(t, "M-1", "Jam", "op-1")
	env.seed(t, "M-2", "Jam", "op-2")

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/operator/active", nil), testOperator)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["active"], 1)

	req := jsonRequest(http.MethodPost, "/api/operator/resolve", map[string]any{
		"id":    idString(mine.ID),
		"notes": "  cleared  ",
	})
	w = env.do(t, req, testOperator)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resolved := decode(t, w)["downtime"].(map[string]any)
	assert.Equal(t, "resolved", resolved["status"])
	assert.Equal(t, "cleared", resolved["resolution_notes"])
	assert.Equal(t, "op-1", resolved["resolved_by"])

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/operator/resolved", nil), testOperator)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["resolved"], 1)

	w = env.do(t, jsonRequest(http.MethodPost, "/api/operator/resolve", map[string]any{"id": "abc"}), testOperator)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, jsonRequest(http.MethodPost, "/api/operator/resolve", map[string]any{"id": "9999"}), testOperator)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func idString(id domain.DowntimeID) string {
	return strconv.FormatInt(int64(id), 10)
}

func TestLogLocalAndSync(t *testing.T) {
	env := newAPIEnv(t, false)

	req := multipartRequest(t, "/api/downtime/log-local", map[string]string{
		"machine_id": "M-5",
		"reason":     "Overheat",
	}, "", "", nil)
	w := env.do(t, req, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "saved", body["status"])
	assert.Equal(t, "M-5", body["downtime"].(map[string]any)["machine_id"])

	w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/downtime/sync", nil), testOperator)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/downtime/sync", nil), testManager)
	require.Equal(t, http.StatusOK, w.Code)
	summary := decode(t, w)
	assert.Equal(t, float64(0), summary["synced"])
	assert.Empty(t, summary["errors"])
}

func TestManagementEndpoints(t *testing.T) {
	env := newAPIEnv(t, false)
	first := env.seed(t, "M-1", "Jam", "op-1")
	env.seed(t, "M-1", "Jam", "op-1")
	env.seed(t, "M-2", "Leak", "op-2")

	t.Run("operator rejected", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/management/kpis", nil), testOperator)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("kpis", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/management/kpis", nil), testManager)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, float64(3), body["total_downtimes"])
		assert.Equal(t, float64(3), body["open_downtimes"])
		assert.Equal(t, float64(3), body["unseen_alerts"])
	})

	t.Run("list with filter", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/management/downtimes?machine_id=M-1&per_page=1", nil), testManager)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, float64(2), body["total"])
		assert.Len(t, body["data"], 1)
	})

	t.Run("bad queries", func(t *testing.T) {
		for _, q := range []string{"page=x", "per_page=-1", "status=closed", "start_after=yesterday"} {
			w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/management/downtimes?"+q, nil), testManager)
			assert.Equal(t, http.StatusBadRequest, w.Code, q)
		}
	})

	t.Run("get one", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/management/downtimes/"+idString(first.ID), nil), testManager)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "M-1", decode(t, w)["machine_id"])

		w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/management/downtimes/424242", nil), testManager)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("resolve", func(t *testing.T) {
		req := jsonRequest(http.MethodPatch, "/api/management/downtimes/"+idString(first.ID)+"/resolve",
			map[string]any{"resolution_notes": "Replaced belt"})
		w := env.do(t, req, testManager)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		data := decode(t, w)["data"].(map[string]any)
		assert.Equal(t, "resolved", data["status"])
		assert.Equal(t, "mgr-1", data["resolved_by"])

		w = env.do(t, httptest.NewRequest(http.MethodPatch, "/api/management/downtimes/424242/resolve", nil), testManager)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("stats", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/management/stats/machines?top_n=1", nil), testManager)
		require.Equal(t, http.StatusOK, w.Code)
		top := decode(t, w)["top_machines"].([]any)
		require.Len(t, top, 1)
		assert.Equal(t, "M-1", top[0].(map[string]any)["machine_id"])

		w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/management/alerts?limit=2", nil), testManager)
		require.Equal(t, http.StatusOK, w.Code)

		w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/management/machines/status", nil), testManager)
		require.Equal(t, http.StatusOK, w.Code)
		var statuses []domain.MachineStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statuses))
		assert.Len(t, statuses, 2)
	})

	t.Run("trends", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/management/stats/hourly", nil), testManager)
		require.Equal(t, http.StatusOK, w.Code)
		var hours map[string]int
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hours))
		assert.Len(t, hours, 24)

		w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/management/stats/daily", nil), testManager)
		require.Equal(t, http.StatusOK, w.Code)
		var days []domain.DayCount
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &days))
		require.Len(t, days, 1)
		assert.Equal(t, 3, days[0].Count)

		w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/management/stats/weekly", nil), testManager)
		require.Equal(t, http.StatusOK, w.Code)
		var weeks []domain.WeekCount
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &weeks))
		require.Len(t, weeks, 1)
		assert.Equal(t, 3, weeks[0].Count)
	})

	t.Run("machine history and heartbeat", func(t *testing.T) {
		w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/management/machines/M-1/history", nil), testManager)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "M-1", body["machine_id"])
		assert.Equal(t, float64(2), body["total_count"])
		assert.Len(t, body["downtimes"], 2)

		w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/management/machines/M-1/heartbeat", nil), testManager)
		require.Equal(t, http.StatusOK, w.Code)
		var beats []domain.HeartbeatBucket
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &beats))
		require.Len(t, beats, 24)
		total := 0
		for _, b := range beats {
			total += b.DowntimeCount
		}
		assert.Equal(t, 2, total)
	})

	t.Run("mark alerts seen", func(t *testing.T) {
		unseenCount := func() float64 {
			w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/management/alerts/unseen-count", nil), testManager)
			require.Equal(t, http.StatusOK, w.Code)
			return decode(t, w)["count"].(float64)
		}
		assert.Equal(t, float64(3), unseenCount())

		w := env.do(t, httptest.NewRequest(http.MethodPost, "/api/management/alerts/"+idString(first.ID)+"/mark-seen", nil), testManager)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, true, decode(t, w)["success"])
		assert.Equal(t, float64(2), unseenCount())

		w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/management/alerts?only_unseen=true", nil), testManager)
		require.Equal(t, http.StatusOK, w.Code)
		var unseen []domain.Downtime
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &unseen))
		assert.Len(t, unseen, 2)

		w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/management/alerts/424242/mark-seen", nil), testManager)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/management/alerts/mark-seen", nil), testManager)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, float64(2), body["marked"])
		assert.Equal(t, "Marked 2 alert(s) as seen", body["message"])

		w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/management/alerts/mark-seen", nil), testManager)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "No unseen alerts", decode(t, w)["message"])
		assert.Zero(t, unseenCount())

		got, err := env.repo.GetByID(context.Background(), first.ID)
		require.NoError(t, err)
		assert.True(t, got.Seen)
		assert.Equal(t, testManager.ID, got.SeenBy)
	})
}

func TestAIEndpoints(t *testing.T) {
	env := newAPIEnv(t, false)
	d := env.seed(t, "M-7", "Motor overheating", "op-1")

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/ai/analysis/daily", nil), testManager)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, float64(1), body["total_incidents"])
	assert.NotEmpty(t, body["analysis"])

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/ai/analysis/weekly", nil), testManager)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/ai/analysis/"+idString(d.ID), nil), testManager)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, decode(t, w)["severity"])

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/ai/analysis/nope", nil), testManager)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/ai/analysis/daily", nil), testOperator)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuthEndpoints(t *testing.T) {
	env := newAPIEnv(t, false)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), testOperator)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "op@plant.test", decode(t, w)["email"])

	w = env.do(t, httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil), testManager)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "bearer", body["token_type"])

	user, err := env.auth.VerifyToken(body["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, domain.RoleManager, user.Role)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = env.do(t, req, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthAndReady(t *testing.T) {
	env := newAPIEnv(t, false)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/ready", nil), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "healthy", decode(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
