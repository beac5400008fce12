// directory.go: публичное чтение и модерация отзывов.
//
//	GET  /api/v1/businesses/{id}
//	GET  /api/v1/businesses/{id}/reviews?limit=&offset=
//	POST /api/v1/reviews/{id}/approve (роль admin)
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/bigkaa/stl-directory/internal/api/errors"
	"github.com/bigkaa/stl-directory/internal/api/middleware"
	"github.com/bigkaa/stl-directory/internal/domain/model"
	"github.com/bigkaa/stl-directory/internal/service"
)

type businessResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Slug          string   `json:"slug"`
	Description   string   `json:"description"`
	Category      string   `json:"category"`
	Phone         string   `json:"phone,omitempty"`
	Email         string   `json:"email,omitempty"`
	Website       string   `json:"website,omitempty"`
	Address       string   `json:"address"`
	City          string   `json:"city"`
	State         string   `json:"state"`
	ZipCode       string   `json:"zip_code"`
	PriceRange    string   `json:"price_range,omitempty"`
	LogoURL       string   `json:"logo_url,omitempty"`
	BannerURL     string   `json:"banner_url,omitempty"`
	GalleryURLs   []string `json:"gallery_urls"`
	IsApproved    bool     `json:"is_approved"`
	IsFeatured    bool     `json:"is_featured"`
	ReviewCount   int      `json:"review_count"`
	AverageRating float64  `json:"average_rating"`
	CreatedAt     string   `json:"created_at"`
}

type reviewResponse struct {
	ID            string   `json:"id"`
	BusinessID    string   `json:"business_id"`
	UserName      string   `json:"user_name"`
	UserAvatarURL string   `json:"user_avatar_url,omitempty"`
	Rating        int      `json:"rating"`
	Title         string   `json:"title,omitempty"`
	Content       string   `json:"content"`
	ImageURLs     []string `json:"image_urls"`
	IsApproved    bool     `json:"is_approved"`
	HelpfulCount  int      `json:"helpful_count"`
	CreatedAt     string   `json:"created_at"`
}

type reviewListResponse struct {
	Reviews []reviewResponse `json:"reviews"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// GetBusiness обрабатывает GET /api/v1/businesses/{id}. Карточки на
// модерации видны только владельцу и администраторам.
func (h *APIHandler) GetBusiness(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "Business not found")
	if !ok {
		return
	}
	b, err := h.directory.GetBusiness(r.Context(), id)
	if err != nil {
		h.writeReadError(w, err, "Failed to load business")
		return
	}
	if !b.IsApproved && !h.canSeePending(middleware.IdentityFromContext(r.Context()), b) {
		apierrors.NotFound(w, "Business not found")
		return
	}
	writeJSON(w, http.StatusOK, toBusinessResponse(b))
}

// ListReviews обрабатывает GET /api/v1/businesses/{id}/reviews.
func (h *APIHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	businessID, ok := pathID(w, r, "Business not found")
	if !ok {
		return
	}
	limit, ok := queryInt(r, "limit", service.DefaultPageSize)
	if !ok {
		apierrors.ValidationError(w, "limit must be an integer")
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		apierrors.ValidationError(w, "offset must be an integer")
		return
	}

	reviews, total, err := h.directory.ListReviews(r.Context(), businessID, limit, offset)
	if err != nil {
		h.writeReadError(w, err, "Failed to list reviews")
		return
	}

	resp := reviewListResponse{
		Reviews: make([]reviewResponse, 0, len(reviews)),
		Total:   total,
		Limit:   clampLimit(limit),
		Offset:  max(offset, 0),
	}
	for _, rv := range reviews {
		resp.Reviews = append(resp.Reviews, toReviewResponse(rv))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ApproveReview обрабатывает POST /api/v1/reviews/{id}/approve.
func (h *APIHandler) ApproveReview(w http.ResponseWriter, r *http.Request) {
	ident := middleware.IdentityFromContext(r.Context())
	if ident == nil {
		apierrors.Unauthorized(w, "Authentication required")
		return
	}

	id, ok := pathID(w, r, "Review not found")
	if !ok {
		return
	}
	rv, err := h.directory.ApproveReview(r.Context(), id, ident.ID)
	if err != nil {
		h.writeReadError(w, err, "Failed to approve review")
		return
	}
	writeJSON(w, http.StatusOK, toReviewResponse(rv))
}

// pathID возвращает параметр {id} в каноническом виде UUID. Не-UUID не
// может совпасть ни с одной строкой, поэтому сразу 404 без обращения
// к сервису.
func pathID(w http.ResponseWriter, r *http.Request, notFound string) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apierrors.NotFound(w, notFound)
		return "", false
	}
	return id.String(), true
}

func (h *APIHandler) canSeePending(ident *model.Identity, b *model.Business) bool {
	if ident == nil {
		return false
	}
	return ident.ID == b.OwnerID || (h.opts.AdminRole != "" && ident.HasRole(h.opts.AdminRole))
}

// writeReadError переводит ошибки сервиса в единый формат ошибок.
func (h *APIHandler) writeReadError(w http.ResponseWriter, err error, fallback string) {
	var serr *service.SubmissionError
	if errors.As(err, &serr) {
		switch {
		case errors.Is(err, service.ErrNotFound):
			apierrors.WriteError(w, http.StatusNotFound, serr.Code, serr.Message)
			return
		case errors.Is(err, service.ErrForbidden):
			apierrors.Forbidden(w, serr.Message)
			return
		}
	}
	h.logger.Error(fallback, slog.String("error", err.Error()))
	apierrors.InternalError(w, fallback)
}

func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return service.DefaultPageSize
	}
	return min(limit, service.MaxPageSize)
}

func toBusinessResponse(b *model.Business) businessResponse {
	gallery := b.GalleryURLs
	if gallery == nil {
		gallery = []string{}
	}
	return businessResponse{
		ID:            b.ID,
		Name:          b.Name,
		Slug:          b.Slug,
		Description:   b.Description,
		Category:      b.Category,
		Phone:         b.Phone,
		Email:         b.Email,
		Website:       b.Website,
		Address:       b.Address,
		City:          b.City,
		State:         b.State,
		ZipCode:       b.ZipCode,
		PriceRange:    b.PriceRange,
		LogoURL:       b.LogoURL,
		BannerURL:     b.BannerURL,
		GalleryURLs:   gallery,
		IsApproved:    b.IsApproved,
		IsFeatured:    b.IsFeatured,
		ReviewCount:   b.ReviewCount,
		AverageRating: b.AverageRating,
		CreatedAt:     b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toReviewResponse(rv *model.Review) reviewResponse {
	images := rv.ImageURLs
	if images == nil {
		images = []string{}
	}
	return reviewResponse{
		ID:            rv.ID,
		BusinessID:    rv.BusinessID,
		UserName:      rv.UserName,
		UserAvatarURL: rv.UserAvatarURL,
		Rating:        rv.Rating,
		Title:         rv.Title,
		Content:       rv.Content,
		ImageURLs:     images,
		IsApproved:    rv.IsApproved,
		HelpfulCount:  rv.HelpfulCount,
		CreatedAt:     rv.CreatedAt.UTC().Format(time.RFC3339),
	}
}
