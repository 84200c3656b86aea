package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/dcbackoffice/invoice-pipeline/internal/core/domain"
	"github.com/dcbackoffice/invoice-pipeline/internal/core/ports"
	"github.com/dcbackoffice/invoice-pipeline/internal/infrastructure/resilience"
)

// Client archives processed documents to a Google Drive folder using the
// multipart upload endpoint.
type Client struct {
	baseURL    string
	folderID   string
	token      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, folderID, token string, executor *resilience.Executor) *Client {
	if baseURL == "" {
		baseURL = "https://www.googleapis.com"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		folderID:   folderID,
		token:      token,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

func (c *Client) Archive(ctx context.Context, req ports.ArchiveRequest) (*ports.ArchiveResult, error) {
	data, err := io.ReadAll(req.File)
	if err != nil {
		return nil, fmt.Errorf("read archive payload: %w", err)
	}

	name := BuildArchiveName(req.Fields, req.OriginalFilename, time.Now())

	var uploaded uploadResponse
	call := func(ctx context.Context) error {
		return c.uploadMultipart(ctx, name, req.MimeType, data, &uploaded)
	}

	if c.executor != nil {
		err = c.executor.Execute(ctx, "drive.upload", call, resilience.ClassifyHTTPError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, wrapTemporaryIfNeeded("drive upload", err)
	}

	// Shared read access is best effort; the upload already succeeded and a
	// permissions hiccup must not fail the archival stage.
	if err := c.allowLinkAccess(ctx, uploaded.ID); err != nil {
		slog.Warn("drive_permission_update_failed",
			"upload_id", req.UploadID, "file_id", uploaded.ID, "error", err)
	}

	reference := uploaded.WebViewLink
	if reference == "" {
		reference = uploaded.ID
	}
	slog.Info("document_archived",
		"upload_id", req.UploadID, "file_id", uploaded.ID, "archive_name", name)
	return &ports.ArchiveResult{Reference: reference, FileID: uploaded.ID}, nil
}

type uploadResponse struct {
	ID          string `json:"id"`
	WebViewLink string `json:"webViewLink"`
}

func (c *Client) uploadMultipart(ctx context.Context, name, mimeType string, data []byte, out *uploadResponse) error {
	metadata := map[string]any{"name": name}
	if c.folderID != "" {
		metadata["parents"] = []string{c.folderID}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal file metadata: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := writer.CreatePart(metaHeader)
	if err != nil {
		return fmt.Errorf("create metadata part: %w", err)
	}
	if _, err := metaPart.Write(metaJSON); err != nil {
		return fmt.Errorf("write metadata part: %w", err)
	}

	fileHeader := textproto.MIMEHeader{}
	fileHeader.Set("Content-Type", mimeType)
	filePart, err := writer.CreatePart(fileHeader)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := filePart.Write(data); err != nil {
		return fmt.Errorf("write file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finish multipart body: %w", err)
	}

	url := c.baseURL + "/upload/drive/v3/files?uploadType=multipart&fields=id,webViewLink"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+writer.Boundary())
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("drive upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &resilience.HTTPStatusError{
			Service:    "drive",
			Operation:  "upload",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode upload response: %w", err)
	}
	return nil
}

func (c *Client) allowLinkAccess(ctx context.Context, fileID string) error {
	payload, err := json.Marshal(map[string]string{"role": "reader", "type": "anyone"})
	if err != nil {
		return fmt.Errorf("marshal permission: %w", err)
	}

	url := fmt.Sprintf("%s/drive/v3/files/%s/permissions", c.baseURL, fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create permission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("drive permission request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("drive permission status %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return nil
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if resilience.ClassifyHTTPError(err).Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
