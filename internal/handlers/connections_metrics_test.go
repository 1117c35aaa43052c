package handlers

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"allies-service/internal/metrics"
	"allies-service/internal/mocks"
	"allies-service/internal/models"
	"allies-service/internal/services"
)

func setupConnectionsMetricsRouter(handler *ConnectionHandler, market *MarketplaceHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(withUser("mom2@example.com"))
	r.POST("/connections", handler.SendRequest)
	r.PATCH("/connections/:id", handler.UpdateStatus)
	if market != nil {
		r.GET("/marketplace/listings", market.Browse)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func fetchMetrics(t *testing.T, router *gin.Engine) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func metricValue(metricsBody, series string) (float64, bool) {
	for _, line := range strings.Split(metricsBody, "\n") {
		if strings.HasPrefix(line, series+" ") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				return 0, false
			}
			value, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return 0, false
			}
			return value, true
		}
	}
	return 0, false
}

func assertMetricIncrement(t *testing.T, router *gin.Engine, series string, call func()) {
	t.Helper()
	before, _ := metricValue(fetchMetrics(t, router), series)
	call()
	after, found := metricValue(fetchMetrics(t, router), series)
	require.True(t, found, series)
	require.Greater(t, after, before)
}

func TestConnectionRequestMetricsFailed(t *testing.T) {
	metrics.RegisterAlliesMetrics()
	handler := NewConnectionHandler(services.NewConnectionService(new(mocks.MockConnectionRepository)), nil)
	router := setupConnectionsMetricsRouter(handler, nil)

	assertMetricIncrement(t, router, `connection_requests_total{status="failed"}`, func() {
		rec := doJSON(router, http.MethodPost, "/connections", `{"recipient_id":42}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestConnectionAcceptMetricsSuccess(t *testing.T) {
	metrics.RegisterAlliesMetrics()
	repo := new(mocks.MockConnectionRepository)
	handler := NewConnectionHandler(services.NewConnectionService(repo), nil)
	router := setupConnectionsMetricsRouter(handler, nil)

	repo.On("Get", mock.Anything, "req-1").Return(sampleRequest(models.StatusPending), nil)
	repo.On("UpdateStatus", mock.Anything, "req-1", models.StatusConnected).Return(sampleRequest(models.StatusConnected), nil)

	assertMetricIncrement(t, router, `connection_accepts_total{status="success"}`, func() {
		rec := doJSON(router, http.MethodPatch, "/connections/req-1", `{"status":"connected"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestConnectionDeclineMetricsFailed(t *testing.T) {
	metrics.RegisterAlliesMetrics()
	repo := new(mocks.MockConnectionRepository)
	handler := NewConnectionHandler(services.NewConnectionService(repo), nil)
	router := setupConnectionsMetricsRouter(handler, nil)

	repo.On("Get", mock.Anything, "req-1").Return(sampleRequest(models.StatusDeclined), nil)

	assertMetricIncrement(t, router, `connection_declines_total{status="failed"}`, func() {
		rec := doJSON(router, http.MethodPatch, "/connections/req-1", `{"status":"declined"}`)
		require.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestMarketplaceSearchMetrics(t *testing.T) {
	metrics.RegisterAlliesMetrics()
	repo := new(mocks.MockListingRepository)
	repo.On("List", mock.Anything).Return([]models.Listing{}, nil)
	market := NewMarketplaceHandler(services.NewListingService(repo), nil)
	handler := NewConnectionHandler(services.NewConnectionService(new(mocks.MockConnectionRepository)), nil)
	router := setupConnectionsMetricsRouter(handler, market)

	assertMetricIncrement(t, router, `marketplace_searches_total{filtered="true"}`, func() {
		rec := doJSON(router, http.MethodGet, "/marketplace/listings?brand=Chicco", "")
		require.Equal(t, http.StatusOK, rec.Code)
	})
}
