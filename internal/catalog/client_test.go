package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/thetvman/couchsync/internal/domain"
)

func testClient(baseURL string) *Client {
	return NewClient(Credentials{BaseURL: baseURL, Username: "user", Password: "pass"})
}

func TestStreamURL(t *testing.T) {
	c := testClient("http://provider.test")

	tests := []struct {
		videoType domain.VideoType
		streamID  string
		want      string
	}{
		{domain.VideoTypeLive, "7", "http://provider.test/live/user/pass/7.m3u8"},
		{domain.VideoTypeMovie, "42", "http://provider.test/movie/user/pass/42.mp4"},
		{domain.VideoTypeSeries, "9001", "http://provider.test/series/user/pass/9001.mp4"},
		{domain.VideoType("podcast"), "1", ""},
	}

	for _, tt := range tests {
		if got := c.StreamURL(tt.videoType, tt.streamID); got != tt.want {
			t.Errorf("StreamURL(%q, %q) = %q, want %q", tt.videoType, tt.streamID, got, tt.want)
		}
	}
}

func TestGetVodInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/player_api.php" {
			t.Errorf("path = %q, want /player_api.php", r.URL.Path)
		}
		if q.Get("username") != "user" || q.Get("password") != "pass" {
			t.Error("credentials missing from request")
		}
		if q.Get("action") != "get_vod_info" || q.Get("vod_id") != "42" {
			t.Errorf("unexpected query: %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"movie_data":{"stream_id":42,"name":"Some Movie","container_extension":"mp4"}}`))
	}))
	defer srv.Close()

	info, err := testClient(srv.URL).GetVodInfo(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetVodInfo() error = %v", err)
	}
	if info.MovieData.Name != "Some Movie" || info.MovieData.ContainerExtension != "mp4" {
		t.Errorf("info = %+v", info)
	}
}

func TestGetVodInfoUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).GetVodInfo(context.Background(), "42"); err == nil {
		t.Fatal("expected an error for upstream 403")
	}
}
