package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bigkaa/stl-directory/internal/domain/model"
	"github.com/bigkaa/stl-directory/internal/events"
	"github.com/bigkaa/stl-directory/internal/repository"
)

type directoryHarness struct {
	svc        *DirectoryService
	reviews    *fakeReviewRepo
	businesses *fakeBusinessRepo
	cache      *BusinessCache
	publisher  *fakePublisher
}

func newDirectoryHarness(t *testing.T) *directoryHarness {
	t.Helper()
	h := &directoryHarness{
		reviews:   newFakeReviewRepo(),
		cache:     NewBusinessCache(16, time.Minute),
		publisher: &fakePublisher{},
	}
	h.businesses = newFakeBusinessRepo(h.reviews)
	store := &repository.Store{Reviews: h.reviews, Businesses: h.businesses, Contacts: &fakeContactRepo{}}
	h.svc = NewDirectoryService(store, &fakeTx{store: store}, h.cache, h.publisher, discardLogger())

	h.businesses.businesses["biz-1"] = &model.Business{ID: "biz-1", Name: "Gateway Coffee", IsApproved: true}
	return h
}

func TestGetBusiness_Cached(t *testing.T) {
	h := newDirectoryHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b, err := h.svc.GetBusiness(ctx, "biz-1")
		if err != nil {
			t.Fatalf("GetBusiness: %v", err)
		}
		if b.Name != "Gateway Coffee" {
			t.Errorf("Name = %q", b.Name)
		}
	}
	if h.businesses.getCalls != 1 {
		t.Errorf("repository reads = %d, want 1", h.businesses.getCalls)
	}
}

func TestGetBusiness_NotFound(t *testing.T) {
	h := newDirectoryHarness(t)

	_, err := h.svc.GetBusiness(context.Background(), "missing")
	requireSubmissionError(t, err, ErrNotFound, CodeBusinessNotFound)
	if h.cache.Len() != 0 {
		t.Error("miss was cached")
	}
}

func TestListReviews_Pagination(t *testing.T) {
	h := newDirectoryHarness(t)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("r%d", i)
		h.reviews.reviews[id] = &model.Review{ID: id, BusinessID: "biz-1", Rating: 4, IsApproved: true}
	}
	h.reviews.reviews["pending"] = &model.Review{ID: "pending", BusinessID: "biz-1", Rating: 1}

	tests := []struct {
		limit, offset int
		wantLen       int
	}{
		{2, 0, 2},
		{2, 4, 1},
		{0, 0, 5},
		{1000, 0, 5},
		{10, 10, 0},
		{2, -3, 2},
	}
	for _, tt := range tests {
		reviews, total, err := h.svc.ListReviews(context.Background(), "biz-1", tt.limit, tt.offset)
		if err != nil {
			t.Fatalf("ListReviews(%d, %d): %v", tt.limit, tt.offset, err)
		}
		if len(reviews) != tt.wantLen {
			t.Errorf("ListReviews(%d, %d) len = %d, want %d", tt.limit, tt.offset, len(reviews), tt.wantLen)
		}
		if total != 5 {
			t.Errorf("total = %d, want 5 approved", total)
		}
		for _, rv := range reviews {
			if !rv.IsApproved {
				t.Errorf("unapproved review %s listed", rv.ID)
			}
		}
	}
}

func TestListReviews_UnknownBusiness(t *testing.T) {
	h := newDirectoryHarness(t)
	_, _, err := h.svc.ListReviews(context.Background(), "missing", 10, 0)
	requireSubmissionError(t, err, ErrNotFound, CodeBusinessNotFound)
}

func TestApproveReview_UpdatesCounters(t *testing.T) {
	h := newDirectoryHarness(t)
	ctx := context.Background()
	h.reviews.reviews["r1"] = &model.Review{ID: "r1", UserID: "u1", BusinessID: "biz-1", Rating: 5}
	h.reviews.reviews["r2"] = &model.Review{ID: "r2", UserID: "u2", BusinessID: "biz-1", Rating: 4}

	// заполняем кэш устаревшими счётчиками
	if _, err := h.svc.GetBusiness(ctx, "biz-1"); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"r1", "r2"} {
		rv, err := h.svc.ApproveReview(ctx, id, "mod-1")
		if err != nil {
			t.Fatalf("ApproveReview(%s): %v", id, err)
		}
		if !rv.IsApproved {
			t.Errorf("%s not approved", id)
		}
	}

	b, err := h.svc.GetBusiness(ctx, "biz-1")
	if err != nil {
		t.Fatal(err)
	}
	if b.ReviewCount != 2 || b.AverageRating != 4.5 {
		t.Errorf("counters = %d / %v, want 2 / 4.5", b.ReviewCount, b.AverageRating)
	}

	evs := h.publisher.published()
	if len(evs) != 2 || evs[0].Type != events.TypeReviewApproved || evs[0].TargetID != "biz-1" {
		t.Errorf("events = %+v", evs)
	}
}

func TestApproveReview_NotFound(t *testing.T) {
	h := newDirectoryHarness(t)
	_, err := h.svc.ApproveReview(context.Background(), "missing", "mod-1")
	requireSubmissionError(t, err, ErrNotFound, CodeReviewNotFound)
}

func TestApproveReview_PublishFailureIgnored(t *testing.T) {
	h := newDirectoryHarness(t)
	h.publisher.err = errors.New("kafka down")
	h.reviews.reviews["r1"] = &model.Review{ID: "r1", BusinessID: "biz-1", Rating: 3}

	if _, err := h.svc.ApproveReview(context.Background(), "r1", "mod-1"); err != nil {
		t.Fatalf("ApproveReview: %v", err)
	}
}
