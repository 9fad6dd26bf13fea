package middleware

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ValidationMiddleware performs basic input validation for common params
type ValidationMiddleware struct {
	logger *zap.Logger
}

func NewValidationMiddleware(logger *zap.Logger) *ValidationMiddleware {
	return &ValidationMiddleware{logger: logger}
}

func (vm *ValidationMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		method := r.Method

		// Validate by route. Keep this minimal and fast.
		switch {
		case method == http.MethodGet && path == "/api/v1/orchestration/sessions":
			if !vm.validatePagination(w, r, 1, 100) {
				return
			}

		case strings.HasPrefix(path, "/api/v1/orchestration/sessions/"):
			if !vm.validatePathID(w, r, "id") {
				return
			}

		case method == http.MethodGet && path == "/api/v1/memory":
			if !vm.validatePagination(w, r, 1, 500) {
				return
			}

		case strings.HasPrefix(path, "/api/v1/memory/"):
			if !vm.validatePathID(w, r, "key") {
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// --- helpers ---

var idRe = regexp.MustCompile(`^[A-Za-z0-9:_\-\.]{1,128}$`)

func (vm *ValidationMiddleware) validatePathID(w http.ResponseWriter, r *http.Request, name string) bool {
	id := r.PathValue(name)
	if id == "" || !idRe.MatchString(id) {
		vm.sendBadRequest(w, "Invalid "+name+" format")
		return false
	}
	return true
}

func (vm *ValidationMiddleware) validatePagination(w http.ResponseWriter, r *http.Request, minLimit, maxLimit int) bool {
	q := r.URL.Query()
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < minLimit || n > maxLimit {
			vm.sendBadRequest(w, "Invalid limit parameter")
			return false
		}
	}
	if o := q.Get("offset"); o != "" {
		n, err := strconv.Atoi(o)
		if err != nil || n < 0 {
			vm.sendBadRequest(w, "Invalid offset parameter")
			return false
		}
	}
	return true
}

func (vm *ValidationMiddleware) sendBadRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
