package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/ktrack/internal/model"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) (*HTTPClient, *Memory) {
	t.Helper()

	m, _ := newTestMemory()
	srv := httptest.NewServer(NewHandler(m, zerolog.Nop()))
	t.Cleanup(srv.Close)

	return NewHTTPClient(srv.URL+"/", 5*time.Second, nil, zerolog.Nop()), m
}

func TestHTTPClientRoundTrip(t *testing.T) {
	c, m := newTestServer(t)
	ctx := context.Background()

	d, err := c.StartTracking(ctx, model.SessionContext{ProjectID: "p1", TaskID: "t1"})
	if err != nil {
		t.Fatalf("StartTracking() error: %v", err)
	}
	if d.ID == "" {
		t.Fatal("expected session ID")
	}

	d, err = c.PauseTracking(ctx, d.ID)
	if err != nil {
		t.Fatalf("PauseTracking() error: %v", err)
	}
	if !d.Paused() {
		t.Fatal("expected paused descriptor")
	}

	d, err = c.ResumeTracking(ctx, d.ID)
	if err != nil {
		t.Fatalf("ResumeTracking() error: %v", err)
	}
	if d.Paused() {
		t.Fatal("expected running descriptor")
	}

	report, err := c.ReportActivity(ctx, d.ID, model.ActivitySnapshot{PointerActivity: 80, KeyActivity: 60, ActivityLevel: 70})
	if err != nil {
		t.Fatalf("ReportActivity() error: %v", err)
	}
	if report.ProductivityLevel != model.ProductivityHigh {
		t.Errorf("productivity = %s, want high", report.ProductivityLevel)
	}

	artifact := model.Artifact{ID: "a1", ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}
	res, err := c.UploadCheckpoint(ctx, d.ID, artifact, 70)
	if err != nil {
		t.Fatalf("UploadCheckpoint() error: %v", err)
	}
	if !res.Success {
		t.Error("expected successful upload")
	}
	uploads := m.Checkpoints(d.ID)
	if len(uploads) != 1 || string(uploads[0].Artifact.Data) != string(artifact.Data) || uploads[0].ActivityLevel != 70 {
		t.Errorf("stored uploads = %+v", uploads)
	}

	if err := c.RecordConsent(ctx, true); err != nil {
		t.Fatalf("RecordConsent() error: %v", err)
	}
	if granted, recorded := m.Consent(); !granted || !recorded {
		t.Error("expected consent to be recorded as granted")
	}

	summary, err := c.StopTracking(ctx, d.ID)
	if err != nil {
		t.Fatalf("StopTracking() error: %v", err)
	}
	if summary.ID != d.ID {
		t.Errorf("summary ID = %q, want %q", summary.ID, d.ID)
	}
}

func TestHTTPClientErrors(t *testing.T) {
	c, m := newTestServer(t)
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		_, err := c.PauseTracking(ctx, "missing")
		var apiErr *Error
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if apiErr.StatusCode != http.StatusNotFound || apiErr.Op != OpPauseTracking {
			t.Errorf("got %+v", apiErr)
		}
		if apiErr.Message == "" {
			t.Error("expected server message to be carried")
		}
	})

	t.Run("injected failure", func(t *testing.T) {
		m.SetFailure(OpStartTracking, errors.New("maintenance"))
		defer m.SetFailure(OpStartTracking, nil)

		_, err := c.StartTracking(ctx, model.SessionContext{})
		var apiErr *Error
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Message != "maintenance" {
			t.Errorf("got %+v", apiErr)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		dead := NewHTTPClient(url, time.Second, nil, zerolog.Nop())
		err := dead.RecordConsent(ctx, false)
		var apiErr *Error
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if apiErr.StatusCode != 0 || apiErr.Err == nil {
			t.Errorf("expected transport error, got %+v", apiErr)
		}
	})
}

func TestHandlerRejectsBadBody(t *testing.T) {
	m, _ := newTestMemory()
	h := NewHandler(m, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/consent", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
