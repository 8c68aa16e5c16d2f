package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckAggregatesWorstStatus(t *testing.T) {
	c := NewChecker()
	c.Register("ok", func() Check { return Check{Status: StatusHealthy} })
	c.Register("degraded", func() Check { return Check{Status: StatusDegraded} })

	resp := c.Check()
	require.Equal(t, StatusDegraded, resp.Status)
	require.Len(t, resp.Checks, 2)
}

func TestCheckEscalatesToUnhealthy(t *testing.T) {
	c := NewChecker()
	c.Register("ok", func() Check { return Check{Status: StatusHealthy} })
	c.Register("down", func() Check { return Check{Status: StatusUnhealthy} })
	c.Register("degraded", func() Check { return Check{Status: StatusDegraded} })

	require.Equal(t, StatusUnhealthy, c.Check().Status)
}

func TestHTTPHandlerReturns503WhenUnhealthy(t *testing.T) {
	c := NewChecker()
	c.Register("down", func() Check { return Check{Status: StatusUnhealthy, Message: "boom"} })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c.HTTPHandler()(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, StatusUnhealthy, resp.Status)
	require.Equal(t, "boom", resp.Checks["down"].Message)
}

func TestHTTPHandlerReturns200WhenHealthyOrDegraded(t *testing.T) {
	c := NewChecker()
	c.Register("degraded", func() Check { return Check{Status: StatusDegraded} })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	c.HTTPHandler()(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckWithNoRegisteredChecksIsHealthy(t *testing.T) {
	c := NewChecker()
	require.Equal(t, StatusHealthy, c.Check().Status)
}
