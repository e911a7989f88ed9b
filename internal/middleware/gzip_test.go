package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func gzipTestHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	w.Header().Set("Content-Type", contentType)

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("received: " + string(body)))
}

func TestGzipMiddleware(t *testing.T) {
	type want struct {
		statusCode      int
		contentEncoding string
		contentType     string
		bodyContains    string
	}

	tests := []struct {
		name         string
		requestBody  string
		compressBody bool
		headers      map[string]string
		want         want
	}{
		{
			name:        "client accepts gzip, application/json",
			requestBody: `{"amount":500}`,
			headers: map[string]string{
				"Accept-Encoding": "gzip",
				"Content-Type":    "application/json",
			},
			want: want{
				statusCode:      http.StatusOK,
				contentEncoding: "gzip",
				contentType:     "application/json",
				bodyContains:    `received: {"amount":500}`,
			},
		},
		{
			name:        "client does not accept gzip",
			requestBody: "plain request",
			headers:     map[string]string{},
			want: want{
				statusCode:      http.StatusOK,
				contentEncoding: "",
				contentType:     "text/plain",
				bodyContains:    "received: plain request",
			},
		},
		{
			name:         "client sends gzip body",
			requestBody:  `{"amount":300}`,
			compressBody: true,
			headers: map[string]string{
				"Content-Encoding": "gzip",
				"Content-Type":     "application/json",
			},
			want: want{
				statusCode:   http.StatusOK,
				contentType:  "application/json",
				bodyContains: `received: {"amount":300}`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader = strings.NewReader(tt.requestBody)
			if tt.compressBody {
				var buf bytes.Buffer
				zw := gzip.NewWriter(&buf)
				if _, err := zw.Write([]byte(tt.requestBody)); err != nil {
					t.Fatalf("compress body: %v", err)
				}
				if err := zw.Close(); err != nil {
					t.Fatalf("close gzip writer: %v", err)
				}
				body = &buf
			}

			req := httptest.NewRequest(http.MethodPost, "/", body)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			rec := httptest.NewRecorder()
			GzipMiddleware(http.HandlerFunc(gzipTestHandler)).ServeHTTP(rec, req)

			res := rec.Result()
			defer res.Body.Close()

			if res.StatusCode != tt.want.statusCode {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want.statusCode)
			}
			if got := res.Header.Get("Content-Encoding"); got != tt.want.contentEncoding {
				t.Fatalf("content-encoding = %q, want %q", got, tt.want.contentEncoding)
			}
			if got := res.Header.Get("Content-Type"); got != tt.want.contentType {
				t.Fatalf("content-type = %q, want %q", got, tt.want.contentType)
			}

			var reader io.Reader = res.Body
			if res.Header.Get("Content-Encoding") == "gzip" {
				zr, err := gzip.NewReader(res.Body)
				if err != nil {
					t.Fatalf("new gzip reader: %v", err)
				}
				defer zr.Close()
				reader = zr
			}

			respBody, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if !strings.Contains(string(respBody), tt.want.bodyContains) {
				t.Fatalf("body = %q, want substring %q", respBody, tt.want.bodyContains)
			}
		})
	}
}
