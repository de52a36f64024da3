package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-core-api/internal/models"
	appErrors "github.com/noah-isme/tutor-core-api/pkg/errors"
)

type tokenStub map[string]*models.JWTClaims

func (s tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := s[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

type observerStub struct {
	method, path string
	status       int
	inFlight     int
	peak         int
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.method, o.path, o.status = method, path, status
}

func (o *observerStub) TrackInFlight(delta int) {
	o.inFlight += delta
	if o.inFlight > o.peak {
		o.peak = o.inFlight
	}
}

func newWalletRouter(observer *observerStub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	tokens := tokenStub{
		"teacher": {UserID: "teacher-1", Role: models.RoleTeacher},
		"student": {UserID: "student-1", Role: models.RoleStudent},
		"admin":   {UserID: "admin-1", Role: models.RoleAdmin},
	}
	r := gin.New()
	r.Use(Metrics(observer), WithResponseMeta())
	r.GET("/teachers/:teacherId/wallet", JWT(tokens), Authorize(Roles(models.RoleAdmin).OrOwner("teacherId")), func(c *gin.Context) {
		actor, _ := ActorFromContext(c)
		SetMeta(c, "actor", actor.UserID)
		c.JSON(http.StatusOK, ExtractMeta(c))
	})
	return r
}

func TestJWTAndAuthorize(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"missing header", "/teachers/teacher-1/wallet", "", http.StatusUnauthorized},
		{"malformed header", "/teachers/teacher-1/wallet", "Token teacher", http.StatusUnauthorized},
		{"unknown token", "/teachers/teacher-1/wallet", "Bearer nope", http.StatusUnauthorized},
		{"self", "/teachers/teacher-1/wallet", "Bearer teacher", http.StatusOK},
		{"other teacher", "/teachers/teacher-2/wallet", "Bearer teacher", http.StatusForbidden},
		{"student", "/teachers/teacher-1/wallet", "Bearer student", http.StatusForbidden},
		{"empty bearer", "/teachers/teacher-1/wallet", "Bearer   ", http.StatusUnauthorized},
		{"admin", "/teachers/teacher-2/wallet", "bearer admin", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			observer := &observerStub{}
			r := newWalletRouter(observer)
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, "/teachers/:teacherId/wallet", observer.path)
			assert.Equal(t, tc.status, observer.status)
		})
	}
}

func TestResponseMetaCarriesActorAndTiming(t *testing.T) {
	r := newWalletRouter(&observerStub{})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/teachers/teacher-1/wallet", nil)
	req.Header.Set("Authorization", "Bearer teacher")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meta))
	assert.Equal(t, "teacher-1", meta["actor"])
	assert.Contains(t, meta, "processing_time_ms")
}

func TestMetricsLabelsUnmatchedRoutes(t *testing.T) {
	observer := &observerStub{}
	r := newWalletRouter(observer)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unmatched", observer.path)
	assert.Equal(t, 1, observer.peak)
	assert.Zero(t, observer.inFlight)
}

func TestMetricsSkipsExcludedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	observer := &observerStub{}
	r := gin.New()
	r.Use(Metrics(observer, "/metrics"))
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Empty(t, observer.path)
	assert.Zero(t, observer.peak)
}

func TestPolicyAllows(t *testing.T) {
	params := map[string]string{"teacherId": "t1"}
	lookup := func(name string) string { return params[name] }

	policy := Roles(models.RoleSystem).OrOwner("teacherId")
	assert.True(t, policy.Allows(models.Actor{UserID: "sys", Role: models.RoleSystem}, lookup))
	assert.True(t, policy.Allows(models.Actor{UserID: "t1", Role: models.RoleTeacher}, lookup))
	assert.False(t, policy.Allows(models.Actor{UserID: "t2", Role: models.RoleTeacher}, lookup))
	assert.False(t, Roles(models.RoleAdmin).Allows(models.Actor{UserID: "t1", Role: models.RoleTeacher}, lookup))
	assert.False(t, policy.Allows(models.Actor{UserID: "", Role: models.RoleTeacher}, func(string) string { return "" }))
}
