package app

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"jewelry/api/internal/storage"
)

func (s *HTTPServer) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) handleAdminListProducts(w http.ResponseWriter, r *http.Request) {
	page, err := s.service.AdminListProducts(r.Context(), ParseProductFilter(r.URL.Query()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *HTTPServer) handleAdminGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.service.AdminGetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductView(product))
}

func (s *HTTPServer) handleAdminCreateProduct(w http.ResponseWriter, r *http.Request) {
	var body ProductInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	product, err := s.service.CreateProduct(r.Context(), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductView(product))
}

func (s *HTTPServer) handleAdminUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var body ProductInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	product, err := s.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductView(product))
}

func (s *HTTPServer) handleAdminArchiveProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ArchiveProduct(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleAdminUpsertCategory(w http.ResponseWriter, r *http.Request) {
	var body CategoryInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	category, err := s.service.UpsertCategory(r.Context(), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          category.ID,
		"slug":        category.Slug,
		"name":        category.Name,
		"description": category.Description,
		"imageUrl":    category.ImageURL,
		"sortOrder":   category.SortOrder,
	})
}

func (s *HTTPServer) handleAdminListOrders(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	list, err := s.service.AdminListOrders(r.Context(), values.Get("status"), queryInt(values, "limit", 20), queryInt(values, "offset", 0))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleAdminGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.service.AdminGetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(order))
}

func (s *HTTPServer) handleAdminTransitionOrder(w http.ResponseWriter, r *http.Request) {
	var body TransitionInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	order, err := s.service.TransitionOrder(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(order))
}

func (s *HTTPServer) handleAdminGetFeatured(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.AdminFeatured(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleAdminSetFeatured(w http.ResponseWriter, r *http.Request) {
	var body FeaturedInput
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.SetFeatured(r.Context(), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleAdminListReviews(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	reviews, err := s.service.AdminListReviews(r.Context(), values.Get("status"), queryInt(values, "limit", 20), queryInt(values, "offset", 0))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": reviews})
}

func (s *HTTPServer) handleAdminModerateReview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	review, err := s.service.ModerateReview(r.Context(), chi.URLParam(r, "id"), body.Status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (s *HTTPServer) handleAdminSubscribers(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	subs, err := s.service.Subscribers(r.Context(), activeOnly)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": subs})
}

func (s *HTTPServer) handleAdminSubscribersCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="subscribers.csv"`)
	if err := s.service.ExportSubscribersCSV(r.Context(), w); err != nil {
		writeServiceError(w, r, err)
	}
}

func (s *HTTPServer) handleAdminReindex(w http.ResponseWriter, r *http.Request) {
	indexed, err := s.service.Reindex(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"indexed": indexed})
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxUploadBytes+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", storage.ErrTooLarge.Error(), nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form with a file field", nil)
		return
	}
	defer file.Close()

	obj, err := s.service.UploadImage(r.Context(), file, header.Size)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, obj)
}
