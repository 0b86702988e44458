package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/CosmoTheDev/ctrlscan-api/internal/apierr"
	"github.com/CosmoTheDev/ctrlscan-api/internal/authz"
	"github.com/CosmoTheDev/ctrlscan-api/internal/store"
)

// --- HTTP response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writePrettyJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeAPIError maps err onto its status. Errors outside the apierr
// taxonomy are logged and answered with a generic 500.
func writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apierr.As(err)
	status := apierr.Status(err)
	if !ok || status == http.StatusInternalServerError {
		slog.Error("gateway: request failed",
			"method", r.Method, "path", r.URL.Path,
			"request_id", requestIDFrom(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, status, errorBody{Error: e.Message, Kind: string(e.Kind), Code: e.Code, Field: e.Field})
}

// pathID extracts a numeric path parameter by name from the request.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	if raw == "" {
		return 0, apierr.MissingField(name, fmt.Sprintf("missing path parameter %q", name))
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apierr.Validation(name, fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}

// queryID reads an optional positive integer query parameter.
func queryID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apierr.Validation(name, "A valid integer is required.")
	}
	return id, nil
}

// invalidPK is the error for a reference to an object that does not exist.
func invalidPK(field string, id int64) error {
	return apierr.Validation(field, fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", id))
}

// --- Auth helpers ---

func currentUser(r *http.Request) authz.User {
	if u, ok := authz.UserFrom(r.Context()); ok {
		return u
	}
	return authz.User{}
}

func (gw *Gateway) require(r *http.Request, productID int64, perm authz.Permission) error {
	return gw.auth.Require(r.Context(), currentUser(r), productID, perm)
}

// --- Pagination ---

type paginationResult[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type paginationParams struct {
	Page     int
	PageSize int
	Offset   int
}

func (p paginationParams) storePage() store.Page {
	return store.Page{Limit: p.PageSize, Offset: p.Offset}
}

func newPaginationResult[T any](items []T, p paginationParams, total int) paginationResult[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if p.PageSize > 0 {
		pages = (total + p.PageSize - 1) / p.PageSize
	}
	return paginationResult[T]{Items: items, Page: p.Page, PageSize: p.PageSize, Total: total, TotalPages: pages}
}

func parsePaginationParams(r *http.Request, defaultPageSize, maxPageSize int) paginationParams {
	q := r.URL.Query()
	page := 1
	pageSize := defaultPageSize

	if v := strings.TrimSpace(q.Get("page")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pageSize = n
		}
	} else if v := strings.TrimSpace(q.Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pageSize = n
		}
	}
	if maxPageSize > 0 && pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	if v := strings.TrimSpace(q.Get("offset")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return paginationParams{
				Page:     (n / pageSize) + 1,
				PageSize: pageSize,
				Offset:   n,
			}
		}
	}

	return paginationParams{
		Page:     page,
		PageSize: pageSize,
		Offset:   (page - 1) * pageSize,
	}
}
