package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaydesk/channel-server/internal/config"
	apperrors "github.com/relaydesk/channel-server/internal/errors"
	"github.com/relaydesk/channel-server/internal/metrics"
)

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type StoredFile struct {
	ID           string `json:"id"`
	MimeType     string `json:"mimeType"`
	OriginalName string `json:"originalName"`
	SizeBytes    int64  `json:"sizeBytes"`
}

type DownloadURL struct {
	URL          string     `json:"url"`
	MimeType     string     `json:"mimeType"`
	OriginalName string     `json:"originalName"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// Client talks to the storage service that owns tenant files.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: config.StorageRequestTimeout,
		},
	}
}

func (c *Client) UploadFile(ctx context.Context, file File, tenantID string, uploaderID *string) (*StoredFile, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, fmt.Errorf("write multipart part: %w", err)
	}
	if uploaderID != nil {
		if err := mw.WriteField("uploaderId", *uploaderID); err != nil {
			return nil, fmt.Errorf("write uploader field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/tenants/%s/files", c.baseURL, url.PathEscape(tenantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var stored StoredFile
	if err := c.do(req, "upload", &stored); err != nil {
		return nil, err
	}

	log.Debug().
		Str("tenantId", tenantID).
		Str("fileId", stored.ID).
		Int64("sizeBytes", stored.SizeBytes).
		Msg("file uploaded to storage")

	return &stored, nil
}

func (c *Client) GetDownloadURL(ctx context.Context, mediaID, tenantID string) (*DownloadURL, error) {
	endpoint := fmt.Sprintf("%s/v1/tenants/%s/files/%s/download-url",
		c.baseURL, url.PathEscape(tenantID), url.PathEscape(mediaID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var download DownloadURL
	if err := c.do(req, "download_url", &download); err != nil {
		return nil, err
	}
	return &download, nil
}

// Fetch downloads a remote resource such as a profile picture. Bodies larger
// than MaxProfilePictureSize are rejected.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.StorageRequests.WithLabelValues("fetch", "error").Inc()
		return nil, "", apperrors.External("remote fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.StorageRequests.WithLabelValues("fetch", "error").Inc()
		return nil, "", apperrors.External("remote fetch", fmt.Errorf("status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, config.MaxProfilePictureSize+1))
	if err != nil {
		return nil, "", apperrors.External("remote fetch", err)
	}
	if len(data) > config.MaxProfilePictureSize {
		return nil, "", apperrors.External("remote fetch", fmt.Errorf("body exceeds %d bytes", config.MaxProfilePictureSize))
	}

	metrics.StorageRequests.WithLabelValues("fetch", "ok").Inc()
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) do(req *http.Request, operation string, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		metrics.StorageRequests.WithLabelValues(operation, "error").Inc()
		log.Error().
			Err(err).
			Str("operation", operation).
			Dur("elapsed", elapsed).
			Msg("storage request error")
		return apperrors.External("storage", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		metrics.StorageRequests.WithLabelValues(operation, "not_found").Inc()
		return apperrors.NotFound("Media")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.StorageRequests.WithLabelValues(operation, "error").Inc()
		log.Error().
			Str("operation", operation).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("storage request failed")
		return apperrors.External("storage", fmt.Errorf("status %d", resp.StatusCode))
	}

	metrics.StorageRequests.WithLabelValues(operation, "ok").Inc()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.External("storage", fmt.Errorf("decode response: %w", err))
	}
	return nil
}
