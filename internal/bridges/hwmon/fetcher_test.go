package hwmon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPFetcher(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "ok",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Accept") != "application/json" {
					t.Errorf("Accept = %q", r.Header.Get("Accept"))
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(sampleTreeJSON))
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			wantErr: ErrFetch,
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("<html></html>"))
			},
			wantErr: ErrParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			f := NewHTTPFetcher(srv.URL+"/data.json", time.Second)
			tree, err := f.FetchTree(context.Background())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("FetchTree() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchTree() error = %v", err)
			}
			if len(tree.Children) != 1 || tree.Children[0].Text != "DESKTOP-1" {
				t.Errorf("tree root children = %+v", tree.Children)
			}
		})
	}
}

func TestHTTPFetcherUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := NewHTTPFetcher(url, 200*time.Millisecond)
	if _, err := f.FetchTree(context.Background()); !errors.Is(err, ErrFetch) {
		t.Errorf("FetchTree() error = %v, want ErrFetch", err)
	}
}

func TestAdapterDiscoverOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(sampleTreeJSON))
	}))
	defer srv.Close()

	a := NewAdapter(AdapterOptions{Endpoint: srv.URL, FetchTimeout: time.Second})
	result, err := a.DiscoverSensors(context.Background())
	if err != nil {
		t.Fatalf("DiscoverSensors() error = %v", err)
	}
	if len(result.Added) != 2 {
		t.Errorf("Added = %v, want 2 devices", result.Added)
	}
}
