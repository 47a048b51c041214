package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vrsandeep/postscan/internal/jobs"
	"github.com/vrsandeep/postscan/internal/testutil"
)

func TestAdminHandlers(t *testing.T) {
	server, _ := testutil.SetupTestServer(t)
	router := server.Router()

	adminCookie := testutil.GetAuthCookie(t, server, "testadmin", "password", "admin")
	userCookie := testutil.GetAuthCookie(t, server, "testuser", "password", "user")

	t.Run("Jobs Status", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/api/admin/jobs/status", nil)
		req.AddCookie(adminCookie)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
		}
		var statuses []jobs.JobStatus
		if err := json.Unmarshal(rr.Body.Bytes(), &statuses); err != nil {
			t.Fatalf("Could not unmarshal response body: %v", err)
		}
		if len(statuses) != 2 {
			t.Fatalf("Expected 2 registered jobs, got %d", len(statuses))
		}
	})

	t.Run("Run Job", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "/api/admin/jobs/run", bytes.NewBufferString(`{"job_id":"purge-transients"}`))
		req.AddCookie(adminCookie)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusAccepted {
			t.Errorf("handler returned wrong status code: got %v want %v %s", rr.Code, http.StatusAccepted, rr.Body.String())
		}
	})

	t.Run("Run Unknown Job", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "/api/admin/jobs/run", bytes.NewBufferString(`{"job_id":"nope"}`))
		req.AddCookie(adminCookie)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusNotFound {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusNotFound)
		}
	})

	t.Run("Run Job Without ID", func(t *testing.T) {
		req, _ := http.NewRequest("POST", "/api/admin/jobs/run", bytes.NewBufferString(`{}`))
		req.AddCookie(adminCookie)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusBadRequest)
		}
	})

	t.Run("Unauthorized Access", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/api/admin/jobs/status", nil)
		req.AddCookie(userCookie)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if status := rr.Code; status != http.StatusForbidden {
			t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusForbidden)
		}
	})

	t.Run("Get Version", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/api/version", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if status := rr.Code; status != http.StatusOK {
			t.Errorf("handler returned wrong status code: got %v want %v %s", status, http.StatusOK, rr.Body.String())
		}
		var body map[string]string
		json.Unmarshal(rr.Body.Bytes(), &body)
		if body["version"] != "test" {
			t.Errorf("Expected version 'test', got %q", body["version"])
		}
	})

	t.Run("Health", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/api/health", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
		}
	})
}
