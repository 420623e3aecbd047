package healthprobe

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func get(t *testing.T, h http.HandlerFunc) (*httptest.ResponseRecorder, HealthResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return w, resp
}

func TestNew(t *testing.T) {
	hc := New()

	if time.Since(hc.startTime) > 1*time.Second {
		t.Errorf("start time is too old: %v", hc.startTime)
	}
	if hc.ready.Load() {
		t.Error("HealthChecker should not be ready by default")
	}
}

func TestHealth_AlwaysOK(t *testing.T) {
	hc := New()
	hc.Register("store", func() error { return errors.New("down") })

	w, resp := get(t, hc.Health())
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if resp.Status != "healthy" {
		t.Errorf("status field = %q, want healthy", resp.Status)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", w.Header().Get("Content-Type"))
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		checkErr   error
		wantCode   int
		wantStatus string
	}{
		{name: "starting", ready: false, wantCode: http.StatusServiceUnavailable, wantStatus: "not_ready"},
		{name: "ready", ready: true, wantCode: http.StatusOK, wantStatus: "ready"},
		{name: "check-failing", ready: true, checkErr: errors.New("feed disconnected"),
			wantCode: http.StatusServiceUnavailable, wantStatus: "not_ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := New()
			hc.SetReady(tt.ready)
			hc.Register("feed", func() error { return tt.checkErr })
			hc.Register("store", func() error { return nil })

			w, resp := get(t, hc.Ready())
			if w.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", w.Code, tt.wantCode)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if tt.checkErr != nil {
				if resp.Failing["feed"] != tt.checkErr.Error() {
					t.Errorf("failing = %v", resp.Failing)
				}
				if _, ok := resp.Failing["store"]; ok {
					t.Error("healthy check reported as failing")
				}
			}
		})
	}
}

func TestRegister_Replaces(t *testing.T) {
	hc := New()
	hc.SetReady(true)
	hc.Register("feed", func() error { return errors.New("down") })
	hc.Register("feed", func() error { return nil })

	w, _ := get(t, hc.Ready())
	if w.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", w.Code)
	}
}

func TestHealthChecker_ConcurrentAccess(t *testing.T) {
	hc := New()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			hc.SetReady(i%2 == 0)
			hc.Register("c", func() error { return nil })
		}(i)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			hc.Ready()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		}()
	}
	wg.Wait()
}
