package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{"timestamp": "100", "public_id": "abc", "api_key": "key", "folder": ""})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("public_id=abc&timestamp=100secret")))
	assert.Equal(t, want, got)
}

func TestPublishPNG(t *testing.T) {
	var form map[string]string
	var fileBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		fileBody, _ = io.ReadAll(f)
		_, _ = w.Write([]byte(`{"public_id":"checkqr/qr/abc","secure_url":"https://res.example/abc.png"}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "checkqr/qr")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	url, err := c.PublishPNG(context.Background(), []byte("png-bytes"), "abc.png")
	require.NoError(t, err)
	assert.Equal(t, "https://res.example/abc.png", url)
	assert.Equal(t, []byte("png-bytes"), fileBody)
	assert.Equal(t, "abc", form["public_id"])
	assert.Equal(t, "key", form["api_key"])
	assert.Equal(t, "1700000000", form["timestamp"])
	assert.Equal(t, c.sign(map[string]string{
		"timestamp": "1700000000",
		"folder":    "checkqr/qr",
		"public_id": "abc",
		"overwrite": "true",
	}), form["signature"])
}

func TestUploadErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	_, err := c.PublishPNG(context.Background(), []byte("x"), "x.png")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Invalid Signature", apiErr.Message)
}

func TestUploadRequiresSecureURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"public_id":"x"}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	_, err := c.PublishPNG(context.Background(), []byte("x"), "x.png")
	assert.Error(t, err)
}
