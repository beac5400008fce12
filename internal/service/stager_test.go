package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/stl-directory/internal/storage/objectstore"
)

func newTestStager(store objectstore.Store, concurrency int) *Stager {
	s := NewStager(store, 1024, concurrency, discardLogger())
	s.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	var n atomic.Int32
	s.token = func() string {
		return "tok" + string(rune('a'+n.Add(1)-1))
	}
	return s
}

func TestStage_PathAndURL(t *testing.T) {
	store := newFakeObjectStore()
	s := newTestStager(store, 1)

	sf, err := s.Stage(context.Background(), File{Field: "images", Filename: "a.png", Data: pngBytes}, "user-1", "biz-1", ReviewImagesFolder)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	wantPath := "review-images/biz-1/user-1-1700000000000-toka.png"
	if sf.Path != wantPath {
		t.Errorf("Path = %q, want %q", sf.Path, wantPath)
	}
	if sf.URL != "https://cdn.test/media/"+wantPath {
		t.Errorf("URL = %q", sf.URL)
	}
	if sf.Field != "images" {
		t.Errorf("Field = %q, want images", sf.Field)
	}
}

func TestStage_ContentTypes(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantExt string
		wantErr bool
	}{
		{"jpeg", jpegBytes, ".jpg", false},
		{"png", pngBytes, ".png", false},
		{"webp", webpBytes, ".webp", false},
		{"gif", gifBytes, "", true},
		{"text", []byte("hello world, not an image"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeObjectStore()
			sf, err := newTestStager(store, 1).Stage(context.Background(), File{Filename: "f", Data: tt.data}, "u", "b", ReviewImagesFolder)

			if tt.wantErr {
				var se *StagingError
				if !errors.As(err, &se) || se.Kind != InvalidFile {
					t.Fatalf("err = %v, want InvalidFile", err)
				}
				if store.uploadCalls != 0 {
					t.Errorf("invalid file uploaded %d times", store.uploadCalls)
				}
				return
			}
			if err != nil {
				t.Fatalf("Stage: %v", err)
			}
			if !strings.HasSuffix(sf.Path, tt.wantExt) {
				t.Errorf("Path = %q, want suffix %s", sf.Path, tt.wantExt)
			}
		})
	}
}

func TestStage_Size(t *testing.T) {
	store := newFakeObjectStore()
	s := newTestStager(store, 1)

	big := append([]byte(nil), pngBytes...)
	big = append(big, make([]byte, 2048)...)

	for name, data := range map[string][]byte{"empty": nil, "too large": big} {
		_, err := s.Stage(context.Background(), File{Filename: name, Data: data}, "u", "b", ReviewImagesFolder)
		var se *StagingError
		if !errors.As(err, &se) || se.Kind != InvalidFile {
			t.Errorf("%s: err = %v, want InvalidFile", name, err)
		}
	}
	if store.uploadCalls != 0 {
		t.Errorf("uploadCalls = %d, want 0", store.uploadCalls)
	}
}

func TestStage_UploadErrors(t *testing.T) {
	t.Run("conflict", func(t *testing.T) {
		store := newFakeObjectStore()
		store.failUploadAt = 1
		store.uploadErr = objectstore.ErrObjectExists

		_, err := newTestStager(store, 1).Stage(context.Background(), File{Data: pngBytes}, "u", "b", ReviewImagesFolder)
		var se *StagingError
		if !errors.As(err, &se) || se.Kind != UploadConflict {
			t.Fatalf("err = %v, want UploadConflict", err)
		}
	})

	t.Run("transport", func(t *testing.T) {
		store := newFakeObjectStore()
		store.failUploadAt = 1

		_, err := newTestStager(store, 1).Stage(context.Background(), File{Data: pngBytes}, "u", "b", ReviewImagesFolder)
		var se *StagingError
		if !errors.As(err, &se) || se.Kind != UploadFailed {
			t.Fatalf("err = %v, want UploadFailed", err)
		}
	})
}

func TestStage_UnsafeOwnerID(t *testing.T) {
	store := newFakeObjectStore()
	sf, err := newTestStager(store, 1).Stage(context.Background(), File{Data: pngBytes}, "google-oauth2|123/../x", "b", ReviewImagesFolder)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if strings.Count(sf.Path, "/") != 2 {
		t.Errorf("Path = %q, owner id must stay in one segment", sf.Path)
	}
}

// N файлов загружены, (N+1)-й падает: ровно N удалений, по одному на URL.
func TestStageAll_CleanupCompleteness(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		t.Run(map[int]string{1: "sequential", 3: "concurrent"}[concurrency], func(t *testing.T) {
			store := newFakeObjectStore()
			s := newTestStager(store, concurrency)
			// 4-й вызов загрузки падает при любом порядке файлов
			store.failUploadAt = 4

			files := []File{
				{Field: "images", Filename: "1.png", Data: pngBytes},
				{Field: "images", Filename: "2.png", Data: pngBytes},
				{Field: "images", Filename: "3.png", Data: pngBytes},
				{Field: "images", Filename: "4.png", Data: pngBytes},
			}

			staged, err := s.StageAll(context.Background(), files, "u", "b", ReviewImagesFolder)
			if err == nil {
				t.Fatal("StageAll succeeded, want failure")
			}
			if staged != nil {
				t.Errorf("staged = %v, want nil on failure", staged)
			}
			if len(store.removeCalls) != 3 {
				t.Fatalf("removeCalls = %d, want 3", len(store.removeCalls))
			}
			for _, call := range store.removeCalls {
				if len(call) != 1 {
					t.Errorf("Remove called with %d paths, want 1", len(call))
				}
			}
			if left := store.stored(); len(left) != 0 {
				t.Errorf("objects left behind: %v", left)
			}
		})
	}
}

func TestStageAll_KeepsOrder(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		store := newFakeObjectStore()
		s := NewStager(store, 1024, concurrency, discardLogger())

		files := []File{
			{Field: "logo", Data: pngBytes},
			{Field: "banner", Data: jpegBytes},
			{Field: "gallery", Data: webpBytes},
		}
		staged, err := s.StageAll(context.Background(), files, "owner", "biz", BusinessImagesFolder)
		if err != nil {
			t.Fatalf("concurrency %d: StageAll: %v", concurrency, err)
		}
		if len(staged) != 3 {
			t.Fatalf("concurrency %d: staged %d, want 3", concurrency, len(staged))
		}
		for i, want := range []string{"logo", "banner", "gallery"} {
			if staged[i].Field != want {
				t.Errorf("concurrency %d: staged[%d].Field = %q, want %q", concurrency, i, staged[i].Field, want)
			}
		}
	}
}

func TestStageAll_Empty(t *testing.T) {
	store := newFakeObjectStore()
	staged, err := newTestStager(store, 1).StageAll(context.Background(), nil, "u", "b", ReviewImagesFolder)
	if err != nil || staged != nil {
		t.Errorf("StageAll(nil) = %v, %v", staged, err)
	}
	if store.calls() != 0 {
		t.Errorf("store calls = %d, want 0", store.calls())
	}
}

func TestCleanup_FailuresAreSwallowed(t *testing.T) {
	store := newFakeObjectStore()
	store.removeErr = errors.New("storage down")

	s := newTestStager(store, 1)
	s.Cleanup(context.Background(), ReviewImagesFolder, []string{
		"https://cdn.test/media/review-images/b/u-1-a.png",
		"not a url with segments",
		"https://cdn.test/media/review-images/b/u-1-b.png",
	})

	if len(store.removeCalls) != 2 {
		t.Errorf("removeCalls = %d, want 2 (unparseable URL skipped)", len(store.removeCalls))
	}
}

func TestCleanup_RunsAfterCancel(t *testing.T) {
	store := newFakeObjectStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	newTestStager(store, 1).Cleanup(ctx, ReviewImagesFolder, []string{"https://cdn.test/media/review-images/b/x.png"})

	if len(store.removeCalls) != 1 {
		t.Errorf("removeCalls = %d, want 1", len(store.removeCalls))
	}
}

func TestStoragePathFromURL(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://cdn.test/media/review-images/biz-1/u-1-a.png", "review-images/biz-1/u-1-a.png", false},
		{"http://localhost:8080/media/review-images/biz-1/u-1-a.png", "review-images/biz-1/u-1-a.png", false},
		{"https://storage.googleapis.com/bucket/review-images/b/f.jpg", "review-images/b/f.jpg", false},
		{"https://cdn.test/only.png", "", true},
		{"https://cdn.test/", "", true},
	}
	for _, tt := range tests {
		got, err := StoragePathFromURL(ReviewImagesFolder, tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("StoragePathFromURL(%q) err = %v, wantErr %v", tt.url, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("StoragePathFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
