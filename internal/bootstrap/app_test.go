package bootstrap

import (
	"chatalarm/backend/internal/config"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	return &config.Config{
		AppEnv:             "test",
		LogLevel:           "warn",
		ServerPort:         "0",
		StorageDriver:      config.StorageMemory,
		JWTSecret:          "secret",
		JWTTTL:             time.Hour,
		RateLimitMax:       100,
		RateLimitWindow:    time.Second,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
		AlarmLang:          "ko",
	}
}

func TestNewApp_MemoryStorage(t *testing.T) {
	app, err := NewApp(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer app.Shutdown(context.Background())

	assert.Nil(t, app.DB)
	assert.Nil(t, app.RedisClient)
	assert.Nil(t, app.AsynqServer, "inline dispatch needs no worker")

	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	app.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chat/rooms", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNewApp_UnknownAlarmLanguage(t *testing.T) {
	cfg := memoryConfig()
	cfg.AlarmLang = "xx"

	_, err := NewApp(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewApp_CORS(t *testing.T) {
	app, err := NewApp(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer app.Shutdown(context.Background())

	req := httptest.NewRequest(http.MethodOptions, "/api/chat/rooms", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	app.Router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewLogger(t *testing.T) {
	cfg := memoryConfig()
	cfg.AppEnv = "production"
	cfg.LogLevel = "debug"

	log := NewLogger(cfg)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}

func TestLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(LoggerMiddleware(logrus.New()))
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
