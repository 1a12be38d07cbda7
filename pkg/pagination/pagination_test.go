package pagination

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"?limit=50&offset=10", 50, 10},
		{"?limit=500", MaxLimit, 0},
		{"?limit=0", DefaultLimit, 0},
		{"?offset=-5", DefaultLimit, 0},
		{"?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/"+tt.query, nil), httptest.NewRecorder())
			p := FromContext(c)
			if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
				t.Errorf("got limit=%d offset=%d, want %d/%d", p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	data := []string{"a", "b", "c"}
	r := NewResponse(data, 10, 3, 0)

	if r.Total != 10 {
		t.Errorf("expected total 10, got %d", r.Total)
	}
	if !r.HasMore {
		t.Error("expected has_more to be true when offset+limit < total")
	}

	r2 := NewResponse(data, 3, 3, 0)
	if r2.HasMore {
		t.Error("expected has_more to be false when offset+limit >= total")
	}
}

func TestParams_HasNext(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		total  int
		want   bool
	}{
		{"more results", Params{Limit: 10, Offset: 0}, 25, true},
		{"exact end", Params{Limit: 10, Offset: 15}, 25, false},
		{"past end", Params{Limit: 10, Offset: 30}, 25, false},
		{"no results", Params{Limit: 10, Offset: 0}, 0, false},
		{"last partial page", Params{Limit: 10, Offset: 20}, 25, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.HasNext(tt.total); got != tt.want {
				t.Errorf("HasNext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParams_HasPrevious(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   bool
	}{
		{"first page", Params{Limit: 10, Offset: 0}, false},
		{"second page", Params{Limit: 10, Offset: 10}, true},
		{"middle", Params{Limit: 10, Offset: 25}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.HasPrevious(); got != tt.want {
				t.Errorf("HasPrevious() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParams_NextOffset(t *testing.T) {
	p := Params{Limit: 10, Offset: 5}
	if got := p.NextOffset(); got != 15 {
		t.Errorf("NextOffset() = %d, want 15", got)
	}
}

func TestParams_PreviousOffset(t *testing.T) {
	tests := []struct {
		name   string
		params Params
		want   int
	}{
		{"normal", Params{Limit: 10, Offset: 20}, 10},
		{"clamp to zero", Params{Limit: 10, Offset: 5}, 0},
		{"exact", Params{Limit: 10, Offset: 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.params.PreviousOffset(); got != tt.want {
				t.Errorf("PreviousOffset() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParams_Links_FirstPage(t *testing.T) {
	p := Params{Limit: 10, Offset: 0}
	links := p.Links("/api/v1/clients", url.Values{"status": {"active"}}, 25)

	if links["self"] != "/api/v1/clients?limit=10&offset=0&status=active" {
		t.Errorf("unexpected self %q", links["self"])
	}
	if links["next"] != "/api/v1/clients?limit=10&offset=10&status=active" {
		t.Errorf("unexpected next %q", links["next"])
	}
	if _, ok := links["previous"]; ok {
		t.Error("did not expect 'previous' link on first page")
	}
}

func TestParams_Links_MiddlePage(t *testing.T) {
	p := Params{Limit: 10, Offset: 10}
	links := p.Links("/api/v1/clients", nil, 25)

	if links["previous"] != "/api/v1/clients?limit=10&offset=0" {
		t.Errorf("unexpected previous %q", links["previous"])
	}
	if _, ok := links["next"]; !ok {
		t.Error("expected 'next' link")
	}
}

func TestParams_Links_LastPage(t *testing.T) {
	p := Params{Limit: 10, Offset: 20}
	links := p.Links("/api/v1/clients", nil, 25)

	if _, ok := links["next"]; ok {
		t.Error("did not expect 'next' link on last page")
	}
	if _, ok := links["previous"]; !ok {
		t.Error("expected 'previous' link")
	}
}

func TestParams_Links_OverridesPagingParams(t *testing.T) {
	p := Params{Limit: 5, Offset: 0}
	links := p.Links("/api/v1/appointments", url.Values{"limit": {"999"}, "offset": {"7"}}, 0)

	if len(links) != 1 {
		t.Fatalf("expected self only, got %v", links)
	}
	if links["self"] != "/api/v1/appointments?limit=5&offset=0" {
		t.Errorf("unexpected self %q", links["self"])
	}
}

func TestResponse_WithLinks(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/clients?status=active&limit=10&offset=10", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	p := FromContext(c)

	r := NewResponse([]string{"a"}, 35, p.Limit, p.Offset).WithLinks(c)

	want := map[string]string{
		"self":     "/api/v1/clients?limit=10&offset=10&status=active",
		"next":     "/api/v1/clients?limit=10&offset=20&status=active",
		"previous": "/api/v1/clients?limit=10&offset=0&status=active",
	}
	for rel, u := range want {
		if r.Links[rel] != u {
			t.Errorf("%s: expected %q, got %q", rel, u, r.Links[rel])
		}
	}
}
