package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/slaguard/slaguard/internal/services"
)

func TestRespondError_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusNotFound, "not_found", "policy 7 does not exist")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %s", ct)
	}

	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "not_found" || body.Message != "policy 7 does not exist" {
		t.Errorf("body = %+v", body)
	}
}

func TestRespondServiceError_Mapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", services.ErrNotFound, http.StatusNotFound, "not_found"},
		{"wrapped not found", fmt.Errorf("load: %w", services.ErrNotFound), http.StatusNotFound, "not_found"},
		{"forbidden", services.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"conflict", services.ErrConflict, http.StatusConflict, "conflict"},
		{"validation", services.NewValidationError("name", "is required"), http.StatusBadRequest, "validation_error"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondServiceError(rec, tt.err)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var body ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error != tt.code {
				t.Errorf("code = %s, want %s", body.Error, tt.code)
			}
		})
	}
}

func TestRespondServiceError_InternalHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondServiceError(rec, errors.New("pq: connection refused at 10.0.0.3"))

	if strings.Contains(rec.Body.String(), "10.0.0.3") {
		t.Error("internal error detail leaked to the client")
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"name":"x"}`, ""},
		{"malformed", `{"name":`, "malformed JSON"},
		{"wrong type", `{"name":7}`, "invalid value for field"},
		{"unknown field", `{"nmae":"x"}`, "unknown field"},
		{"empty", ``, "request body is empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst payload
			err := DecodeJSON(req, &dst)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query   string
		page    int
		perPage int
	}{
		{"", 1, 50},
		{"?page=3&per_page=20", 3, 20},
		{"?page=-1&per_page=0", 1, 50},
		{"?per_page=9999", 1, 200},
		{"?page=abc", 1, 50},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
		p := ParsePagination(req)
		if p.Page != tt.page || p.PerPage != tt.perPage {
			t.Errorf("%q: got page=%d per_page=%d, want %d/%d",
				tt.query, p.Page, p.PerPage, tt.page, tt.perPage)
		}
	}
}

func TestPaginationMath(t *testing.T) {
	p := PaginationParams{Page: 3, PerPage: 20}
	if p.Offset() != 40 {
		t.Errorf("offset = %d, want 40", p.Offset())
	}
	if got := p.TotalPages(41); got != 3 {
		t.Errorf("total pages = %d, want 3", got)
	}
	if got := p.TotalPages(40); got != 2 {
		t.Errorf("total pages = %d, want 2", got)
	}
}

func TestValidate(t *testing.T) {
	type form struct {
		Name   string `validate:"required"`
		MaxLen string `validate:"max=3"`
	}

	if errs := Validate(form{Name: "ok"}); errs != nil {
		t.Errorf("unexpected errors: %v", errs)
	}

	errs := Validate(form{MaxLen: "toolong"})
	if _, ok := errs["name"]; !ok {
		t.Errorf("missing name error in %v", errs)
	}
	if _, ok := errs["max_len"]; !ok {
		t.Errorf("missing max_len error in %v", errs)
	}
}
