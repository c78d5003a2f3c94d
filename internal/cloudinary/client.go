// Package cloudinary publishes rendered QR images to Cloudinary's signed
// upload API.
package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultBaseURL is the Cloudinary upload API root.
const DefaultBaseURL = "https://api.cloudinary.com/v1_1"

// unsigned params never take part in the signature.
var unsigned = map[string]bool{"api_key": true, "file": true, "resource_type": true}

// Client talks to one Cloudinary cloud.
type Client struct {
	CloudName string
	APIKey    string
	APISecret string
	// Folder prefixes every public id when set.
	Folder  string
	BaseURL string
	HTTP    *http.Client
	now     func() time.Time
}

func New(cloudName, apiKey, apiSecret, folder string) *Client {
	return &Client{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    folder,
		BaseURL:   DefaultBaseURL,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

// Asset is the part of the upload response the service keeps.
type Asset struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Format    string `json:"format"`
	Bytes     int    `json:"bytes"`
}

// APIError is a non-2xx answer from Cloudinary.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return "cloudinary: upload rejected (" + strconv.Itoa(e.Status) + "): " + e.Message
}

// PublishPNG uploads a rendered code under name (its fingerprint) and
// returns the HTTPS URL. Publishing the same name again replaces the asset.
func (c *Client) PublishPNG(ctx context.Context, png []byte, name string) (string, error) {
	asset, err := c.Upload(ctx, png, name, map[string]string{
		"public_id": strings.TrimSuffix(name, ".png"),
		"overwrite": "true",
	})
	if err != nil {
		return "", err
	}
	return asset.SecureURL, nil
}

// Upload posts data as an image. extra params are signed with the rest.
func (c *Client) Upload(ctx context.Context, data []byte, filename string, extra map[string]string) (Asset, error) {
	params := map[string]string{"timestamp": strconv.FormatInt(c.now().Unix(), 10)}
	if c.Folder != "" {
		params["folder"] = c.Folder
	}
	for k, v := range extra {
		params[k] = v
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.APIKey

	body, contentType, err := form(params, filename, data)
	if err != nil {
		return Asset{}, errors.Wrap(err, "cloudinary: build form")
	}
	endpoint := strings.TrimRight(c.BaseURL, "/") + "/" + c.CloudName + "/image/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return Asset{}, errors.Wrap(err, "cloudinary: new request")
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Asset{}, errors.Wrap(err, "cloudinary: upload")
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= http.StatusMultipleChoices {
		return Asset{}, apiError(resp.StatusCode, raw)
	}
	var asset Asset
	if err := json.Unmarshal(raw, &asset); err != nil {
		return Asset{}, errors.Wrap(err, "cloudinary: decode response")
	}
	if asset.SecureURL == "" {
		return Asset{}, errors.New("cloudinary: response has no secure_url")
	}
	return asset, nil
}

func form(params map[string]string, filename string, data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func apiError(status int, raw []byte) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		msg = body.Error.Message
	}
	return &APIError{Status: status, Message: msg}
}

// sign is the SHA-1 hex of the sorted, non-empty k=v pairs joined by "&"
// with the secret appended.
func (c *Client) sign(params map[string]string) string {
	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if unsigned[k] || v == "" {
			continue
		}
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + c.APISecret))
	return hex.EncodeToString(sum[:])
}
