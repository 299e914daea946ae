package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(target string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor("/")
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_Explicit(t *testing.T) {
	p := paramsFor("/?limit=5&offset=10")
	if p.Limit != 5 || p.Offset != 10 {
		t.Errorf("expected 5/10, got %d/%d", p.Limit, p.Offset)
	}
}

func TestFromContext_ClampsAndIgnoresGarbage(t *testing.T) {
	p := paramsFor("/?limit=1000&offset=-3")
	if p.Limit != MaxLimit {
		t.Errorf("expected max limit %d, got %d", MaxLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}

	p = paramsFor("/?limit=abc")
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit, got %d", p.Limit)
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	r := NewResponse([]int{1, 2}, 5, 2, 0)
	if !r.HasMore {
		t.Error("expected has_more when more items remain")
	}
	r = NewResponse([]int{5}, 5, 2, 4)
	if r.HasMore {
		t.Error("expected no more items on the last page")
	}
}

func TestParams_Bounds(t *testing.T) {
	tests := []struct {
		p          Params
		n          int
		start, end int
	}{
		{Params{Limit: 10, Offset: 0}, 3, 0, 3},
		{Params{Limit: 2, Offset: 1}, 5, 1, 3},
		{Params{Limit: 5, Offset: 10}, 4, 4, 4},
	}
	for _, tt := range tests {
		start, end := tt.p.Bounds(tt.n)
		if start != tt.start || end != tt.end {
			t.Errorf("Bounds(%+v, %d) = %d,%d; want %d,%d", tt.p, tt.n, start, end, tt.start, tt.end)
		}
	}
}

func TestParams_Next(t *testing.T) {
	p := Params{Limit: 20, Offset: 20}
	if !p.HasNext(41) {
		t.Error("expected next page")
	}
	if p.HasNext(40) {
		t.Error("expected no next page")
	}
	if p.NextOffset() != 40 {
		t.Errorf("expected 40, got %d", p.NextOffset())
	}
}
