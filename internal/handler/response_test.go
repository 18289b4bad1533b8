package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/microblog/internal/apperror"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantType    string
		wantMessage string
	}{
		{"validation", apperror.ValidationFailed("body", "post body is required"),
			http.StatusBadRequest, "validation_error", "post body is required"},
		{"unauthorized", apperror.Unauthorized("invalid username or password"),
			http.StatusUnauthorized, "unauthorized", "invalid username or password"},
		{"forbidden", apperror.Forbidden("not yours"),
			http.StatusForbidden, "forbidden", "not yours"},
		{"not found", fmt.Errorf("getting post: %w", apperror.NotFound("post", "p1")),
			http.StatusNotFound, "not_found", "post not found with id p1"},
		{"duplicate", fmt.Errorf("registering user: %w", apperror.DuplicateKey("user", "username", "alice")),
			http.StatusConflict, "duplicate_key", `user with username "alice" already exists`},
		{"unavailable hides cause", apperror.Unavailable("reading feed", errors.New("disk I/O error at /var/db")),
			http.StatusServiceUnavailable, "unavailable", "The service is temporarily unavailable, try again later"},
		{"plain error hides detail", errors.New("sql: SELECT * FROM users exploded"),
			http.StatusInternalServerError, "internal_error", "An internal error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeError(rr, slog.New(slog.DiscardHandler), tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, tt.wantType, body.Error)
			assert.Equal(t, tt.wantMessage, body.Message)
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"x"}`, false},
		{"empty", ``, true},
		{"unknown field", `{"name":"x","extra":1}`, true},
		{"two objects", `{"name":"x"}{"name":"y"}`, true},
		{"too large", `{"name":"` + strings.Repeat("a", maxBodyBytes) + `"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p payload
			err := decodeJSON(httptest.NewRecorder(), req, &p)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperror.ErrValidation)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, "x", p.Name)
			}
		})
	}
}

func TestPageParams(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
		wantErr    bool
	}{
		{"", 0, 0, false},
		{"limit=5&offset=10", 5, 10, false},
		{"limit=-1", 0, 0, true},
		{"offset=x", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			limit, offset, err := pageParams(req)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperror.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}
