package objectstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/api/googleapi"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "media"), "http://localhost:8080/media/")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return s
}

func TestLocalStore_Upload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Upload(ctx, "reviews/biz-1/user-1-1700000000000-ab12cd34.jpg", []byte("jpeg"), UploadOptions{ContentType: "image/jpeg"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	data, err := os.ReadFile(s.FullPath("reviews/biz-1/user-1-1700000000000-ab12cd34.jpg"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "jpeg" {
		t.Errorf("content = %q, want %q", data, "jpeg")
	}

	// временных файлов не осталось
	entries, _ := os.ReadDir(filepath.Dir(s.FullPath("reviews/biz-1/x")))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestLocalStore_UploadNoOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upload(ctx, "a/b.png", []byte("first"), UploadOptions{}); err != nil {
		t.Fatalf("first Upload: %v", err)
	}
	err := s.Upload(ctx, "a/b.png", []byte("second"), UploadOptions{})
	if !errors.Is(err, ErrObjectExists) {
		t.Fatalf("second Upload err = %v, want ErrObjectExists", err)
	}

	data, _ := os.ReadFile(s.FullPath("a/b.png"))
	if string(data) != "first" {
		t.Errorf("content = %q, original must survive", data)
	}
}

func TestLocalStore_UploadOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Upload(ctx, "a/b.png", []byte("first"), UploadOptions{})
	if err := s.Upload(ctx, "a/b.png", []byte("second"), UploadOptions{Overwrite: true}); err != nil {
		t.Fatalf("overwrite Upload: %v", err)
	}

	data, _ := os.ReadFile(s.FullPath("a/b.png"))
	if string(data) != "second" {
		t.Errorf("content = %q, want %q", data, "second")
	}
}

func TestLocalStore_InvalidPaths(t *testing.T) {
	s := newTestStore(t)

	for _, p := range []string{"", "/etc/passwd", "../escape.jpg", "a/../../b.jpg", `a\b.jpg`} {
		t.Run(p, func(t *testing.T) {
			err := s.Upload(context.Background(), p, []byte("x"), UploadOptions{})
			if !errors.Is(err, ErrInvalidPath) {
				t.Errorf("Upload(%q) err = %v, want ErrInvalidPath", p, err)
			}
		})
	}
}

func TestLocalStore_PublicURL(t *testing.T) {
	s := newTestStore(t)

	got := s.PublicURL("businesses/logos/owner-1.png")
	want := "http://localhost:8080/media/businesses/logos/owner-1.png"
	if got != want {
		t.Errorf("PublicURL = %q, want %q", got, want)
	}
}

func TestLocalStore_Remove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Upload(ctx, "a/1.jpg", []byte("1"), UploadOptions{})
	_ = s.Upload(ctx, "a/2.jpg", []byte("2"), UploadOptions{})

	if err := s.Remove(ctx, "a/1.jpg", "a/2.jpg", "a/missing.jpg"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.Exists("a/1.jpg") || s.Exists("a/2.jpg") {
		t.Error("objects still exist after Remove")
	}
}

func TestLocalStore_RemoveReportsInvalidPath(t *testing.T) {
	s := newTestStore(t)

	if err := s.Remove(context.Background(), "../x"); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("Remove err = %v, want ErrInvalidPath", err)
	}
}

func TestLocalStore_Handler(t *testing.T) {
	s := newTestStore(t)
	_ = s.Upload(context.Background(), "reviews/b/img.png", []byte("png-bytes"), UploadOptions{})

	srv := httptest.NewServer(http.StripPrefix("/media/", s.Handler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/media/reviews/b/img.png")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "png-bytes" {
		t.Errorf("body = %q", body)
	}
}

func TestIsPreconditionFailed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"412", &googleapi.Error{Code: http.StatusPreconditionFailed}, true},
		{"wrapped 412", errors.Join(errors.New("upload"), &googleapi.Error{Code: 412}), true},
		{"403", &googleapi.Error{Code: http.StatusForbidden}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPreconditionFailed(tt.err); got != tt.want {
				t.Errorf("isPreconditionFailed() = %v, want %v", got, tt.want)
			}
		})
	}

	if err := mapGCSError("a/b.jpg", &googleapi.Error{Code: 412}); !errors.Is(err, ErrObjectExists) {
		t.Errorf("mapGCSError(412) = %v, want ErrObjectExists", err)
	}
}
