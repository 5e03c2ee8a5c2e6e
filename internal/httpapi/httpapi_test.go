package httpapi_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpulse/internal/analytics"
	"taskpulse/internal/clock"
	"taskpulse/internal/detector"
	"taskpulse/internal/httpapi"
	"taskpulse/internal/notify"
	"taskpulse/internal/repository"
	"taskpulse/internal/repository/testutil"
	"taskpulse/internal/service"
)

const secret = "test-secret"

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type server struct {
	router *gin.Engine
	clock  *clock.Manual
}

func newServer(t *testing.T) server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.DB(t)
	clk := clock.NewManual(now)
	log := testutil.Logger(t)
	tasks := repository.NewTaskRepository(db)
	rec := analytics.NewRecorder(repository.NewEventRepository(db), repository.NewSnapshotRepository(db), clk)
	corr := analytics.NewCorrelator(rec, tasks, false)
	proc := service.NewProcrastinationService(tasks, rec, corr, detector.NewEvaluator(detector.DefaultThresholds()), notify.Nop{}, clk, log)

	return server{
		router: httpapi.NewRouter(httpapi.RouterConfig{
			Log:             log,
			Auth:            httpapi.NewAuth(secret),
			Procrastination: httpapi.NewProcrastinationHandler(proc),
			Tasks:           httpapi.NewTaskHandler(service.NewTaskService(tasks, rec, clk, log)),
		}),
		clock: clk,
	}
}

func token(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func userToken(t *testing.T, id uint) string {
	return token(t, secret, jwt.MapClaims{"user_id": id})
}

func (s server) do(t *testing.T, method, path, tok string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealthIsPublic(t *testing.T) {
	s := newServer(t)
	code, body := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthRejectsBadTokens(t *testing.T) {
	s := newServer(t)

	cases := map[string]string{
		"missing":      "",
		"wrong key":    token(t, "other", jwt.MapClaims{"user_id": 1}),
		"expired":      token(t, secret, jwt.MapClaims{"user_id": 1, "exp": time.Now().Add(-time.Hour).Unix()}),
		"no user":      token(t, secret, jwt.MapClaims{"role": "admin"}),
		"zero user id": token(t, secret, jwt.MapClaims{"user_id": 0}),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			code, body := s.do(t, http.MethodGet, "/api/procrastination/check", tok, nil)
			assert.Equal(t, http.StatusUnauthorized, code)
			assert.Equal(t, "unauthorized", errorCode(body))
		})
	}
}

func TestAuthAcceptsSubject(t *testing.T) {
	s := newServer(t)
	tok := token(t, secret, jwt.MapClaims{"sub": "7"})
	code, body := s.do(t, http.MethodGet, "/api/procrastination/check", tok, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 0, body["count"])
}

func TestSkipFeedbackFlow(t *testing.T) {
	s := newServer(t)
	tok := userToken(t, 5)

	code, body := s.do(t, http.MethodPost, "/api/tasks", tok, map[string]any{"title": "tax return", "tags": []string{"Admin"}})
	require.Equal(t, http.StatusCreated, code, body)
	task := body["task"].(map[string]any)
	taskID := uint(task["id"].(float64))
	assert.Equal(t, []any{"admin"}, task["tags"])

	var alert map[string]any
	for i := 1; i <= 3; i++ {
		s.clock.Advance(time.Hour)
		code, body = s.do(t, http.MethodPost, "/api/procrastination/skip", tok, map[string]any{"taskId": taskID})
		require.Equal(t, http.StatusOK, code, body)
		assert.EqualValues(t, i, body["skipCount"])
		if i < 3 {
			assert.Nil(t, body["alert"])
			continue
		}
		alert, _ = body["alert"].(map[string]any)
	}
	require.NotNil(t, alert)
	assert.Equal(t, detector.RuleChronicSkip, alert["rule_id"])
	assert.Equal(t, alert["message"], body["message"])

	s.clock.Advance(10 * time.Minute)
	code, body = s.do(t, http.MethodPost, "/api/coaching/feedback", tok, map[string]any{
		"interventionId": alert["id"],
		"taskId":         taskID,
		"feedback":       "positive",
	})
	require.Equal(t, http.StatusOK, code, body)
	fb := body["feedback"].(map[string]any)
	assert.Equal(t, "positive", fb["feedback"])
	assert.Equal(t, alert["id"], fb["intervention_id"])

	code, body = s.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%d/events", taskID), tok, nil)
	require.Equal(t, http.StatusOK, code)
	kinds := map[string]int{}
	for _, raw := range body["events"].([]any) {
		kinds[raw.(map[string]any)["kind"].(string)]++
	}
	assert.Equal(t, 1, kinds["task_created"])
	assert.Equal(t, 3, kinds["task_skipped"])
	assert.Equal(t, 1, kinds["alert_generated"])
	assert.Equal(t, 1, kinds["feedback_received"])

	code, body = s.do(t, http.MethodGet, "/api/procrastination/check", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["count"])
}

func TestCoachingTriggerFlow(t *testing.T) {
	s := newServer(t)
	tok := userToken(t, 6)

	code, body := s.do(t, http.MethodPost, "/api/tasks", tok, map[string]any{"title": "gym"})
	require.Equal(t, http.StatusCreated, code, body)
	taskID := uint(body["task"].(map[string]any)["id"].(float64))

	for i := 1; i <= 5; i++ {
		s.clock.Advance(time.Hour)
		code, body = s.do(t, http.MethodPost, "/api/procrastination/skip", tok, map[string]any{"taskId": taskID})
		require.Equal(t, http.StatusOK, code, body)
	}
	assert.Equal(t, true, body["needsCoaching"])
	alert := body["alert"].(map[string]any)

	code, body = s.do(t, http.MethodPost, "/api/coaching/trigger", tok, map[string]any{
		"taskId": taskID,
		"ruleId": alert["rule_id"],
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "gym", body["taskTitle"])
	assert.EqualValues(t, taskID, body["taskId"])
	assert.Contains(t, body["message"], `"gym"`)
	interventionID, _ := body["interventionId"].(string)
	require.NotEmpty(t, interventionID)

	code, body = s.do(t, http.MethodPost, "/api/coaching/feedback", tok, map[string]any{
		"interventionId": interventionID,
		"taskId":         taskID,
		"feedback":       "neutral",
	})
	require.Equal(t, http.StatusOK, code, body)

	code, body = s.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%d/events", taskID), tok, nil)
	require.Equal(t, http.StatusOK, code)
	var fb map[string]any
	for _, raw := range body["events"].([]any) {
		ev := raw.(map[string]any)
		if ev["kind"] == "feedback_received" {
			fb = ev["payload"].(map[string]any)
		}
	}
	require.NotNil(t, fb)
	assert.Equal(t, "critical", fb["severity"])
	assert.Equal(t, alert["rule_id"], fb["rule_id"])

	code, body = s.do(t, http.MethodPost, "/api/coaching/trigger", tok, map[string]any{"taskId": 9999})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", errorCode(body))
}

func TestTaskLifecycle(t *testing.T) {
	s := newServer(t)
	tok := userToken(t, 9)

	code, body := s.do(t, http.MethodPost, "/api/tasks", tok, map[string]any{"title": "write report", "priority": "high"})
	require.Equal(t, http.StatusCreated, code)
	id := uint(body["task"].(map[string]any)["id"].(float64))
	path := fmt.Sprintf("/api/tasks/%d", id)

	code, body = s.do(t, http.MethodPost, path+"/complete", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["task"].(map[string]any)["is_completed"])

	code, body = s.do(t, http.MethodGet, "/api/tasks", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["tasks"])

	code, _ = s.do(t, http.MethodPost, path+"/reopen", tok, nil)
	require.Equal(t, http.StatusOK, code)

	code, body = s.do(t, http.MethodGet, "/api/tasks", tok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["tasks"], 1)

	// other users do not see the task
	code, body = s.do(t, http.MethodDelete, path, userToken(t, 10), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", errorCode(body))

	code, _ = s.do(t, http.MethodDelete, path, tok, nil)
	assert.Equal(t, http.StatusNoContent, code)
}

func TestErrorMapping(t *testing.T) {
	s := newServer(t)
	tok := userToken(t, 3)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing task id", http.MethodPost, "/api/procrastination/skip", map[string]any{}, http.StatusBadRequest, "validation"},
		{"unknown task", http.MethodPost, "/api/procrastination/skip", map[string]any{"taskId": 404}, http.StatusNotFound, "not_found"},
		{"bad path id", http.MethodPost, "/api/tasks/abc/complete", nil, http.StatusBadRequest, "validation"},
		{"empty title", http.MethodPost, "/api/tasks", map[string]any{"title": " "}, http.StatusBadRequest, "validation"},
		{"trigger without task", http.MethodPost, "/api/coaching/trigger", map[string]any{}, http.StatusBadRequest, "validation"},
		{"bad feedback", http.MethodPost, "/api/coaching/feedback", map[string]any{"interventionId": "x", "taskId": 1, "feedback": "meh"}, http.StatusBadRequest, "validation"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := s.do(t, tc.method, tc.path, tok, tc.body)
			assert.Equal(t, tc.status, code)
			assert.Equal(t, tc.code, errorCode(body))
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}
