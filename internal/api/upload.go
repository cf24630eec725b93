package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Protocol paths, relative to the client's base URL.
const (
	pathStart    = "/upload/start"
	pathChunk    = "/upload/chunk"
	pathFinalize = "/upload/finalize"
	pathSession  = "/upload/" // + url-escaped upload_id
)

// Multipart field names for chunk uploads.
const (
	FieldFile        = "file"
	FieldUploadID    = "upload_id"
	FieldChunkIndex  = "chunk_index"
	FieldTotalChunks = "total_chunks"
)

// StartRequest is the body of start-upload.
type StartRequest struct {
	Filename    string `json:"filename"`
	FileSize    int64  `json:"file_size"`
	TotalChunks int    `json:"total_chunks"`
}

type startResponse struct {
	UploadID string `json:"upload_id"`
}

type finalizeRequest struct {
	UploadID string `json:"upload_id"`
}

// ChunkRequest describes one chunk transfer. Data is read from offset 0 and
// must yield exactly Size bytes; a fresh SectionReader per attempt keeps
// retries safe.
type ChunkRequest struct {
	UploadID    string
	Filename    string
	Index       int
	TotalChunks int
	Data        io.ReaderAt
	Offset      int64
	Size        int64
}

// ArtifactID is the server's identifier for an assembled upload. The
// presentation backend uses integer IDs; other deployments use strings, so
// both JSON forms are accepted.
type ArtifactID string

// UnmarshalJSON accepts a JSON string or number.
func (id *ArtifactID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ArtifactID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("api: artifact id must be a string or number: %w", err)
	}

	*id = ArtifactID(n.String())

	return nil
}

// naiveLayouts are accepted for timestamps without a zone, which Python
// backends emit for naive datetimes. They are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp is a time that also decodes zone-less ISO 8601 values.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts RFC 3339, zone-less ISO 8601 and null.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("api: timestamp must be a string: %w", err)
	}

	if s == "" {
		ts.Time = time.Time{}
		return nil
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		ts.Time = t
		return nil
	}

	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			ts.Time = t
			return nil
		}
	}

	return fmt.Errorf("api: unrecognized timestamp %q", s)
}

// UploadResult is the finalize-upload response.
type UploadResult struct {
	ID         ArtifactID     `json:"id"`
	Filename   string         `json:"filename"`
	UserID     string         `json:"user_id,omitempty"`
	UploadDate Timestamp      `json:"upload_date,omitzero"`
	Metadata   map[string]any `json:"presentation_metadata,omitempty"`
}

// StartUpload allocates a fresh session and returns its upload_id.
func (c *Client) StartUpload(ctx context.Context, req StartRequest) (string, error) {
	c.logger.Info("starting upload session",
		slog.String("filename", req.Filename),
		slog.Int64("size", req.FileSize),
		slog.Int("total_chunks", req.TotalChunks),
	)

	// Every start allocates a new session, so a request that may have reached
	// the server is not repeated; only refused connections and retryable
	// statuses are.
	var resp startResponse
	if err := c.doJSON(withSendOnce(ctx), http.MethodPost, pathStart, req, &resp); err != nil {
		return "", err
	}

	if resp.UploadID == "" {
		return "", fmt.Errorf("api: start-upload returned an empty upload_id")
	}

	c.logger.Debug("upload session started", slog.String("upload_id", resp.UploadID))

	return resp.UploadID, nil
}

// CheckUpload returns nil if the session is live. A 404 or 410 is reported
// as ErrSessionGone; anything else (network, 5xx) is returned as-is and
// should be treated as inconclusive. It makes exactly one attempt.
func (c *Client) CheckUpload(ctx context.Context, uploadID string) error {
	err := c.doJSONOnce(ctx, http.MethodGet, pathSession+url.PathEscape(uploadID), nil, nil)
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrGone) {
		return fmt.Errorf("%w: %w", ErrSessionGone, err)
	}

	return err
}

// UploadChunk sends one chunk as multipart/form-data. It makes exactly one
// attempt.
func (c *Client) UploadChunk(ctx context.Context, req ChunkRequest) error {
	c.logger.Debug("uploading chunk",
		slog.String("upload_id", req.UploadID),
		slog.Int("index", req.Index),
		slog.Int64("offset", req.Offset),
		slog.Int64("size", req.Size),
	)

	body, contentType, err := encodeChunk(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathChunk, body)
	if err != nil {
		return fmt.Errorf("api: creating chunk request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)

	if err := c.decorate(httpReq); err != nil {
		return err
	}

	resp, err := c.raw.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("api: chunk upload canceled: %w", ctx.Err())
		}

		return fmt.Errorf("api: chunk upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(http.MethodPost, pathChunk, resp); err != nil {
		return err
	}

	// Drain body to reuse connection.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("api: draining chunk response body: %w", err)
	}

	return nil
}

// encodeChunk builds the multipart body in memory. Chunks are bounded by the
// configured chunk size, so buffering keeps Content-Length known.
func encodeChunk(req ChunkRequest) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer

	buf.Grow(int(req.Size) + 1024) //nolint:mnd // room for multipart headers

	mw := multipart.NewWriter(&buf)

	fields := [][2]string{
		{FieldUploadID, req.UploadID},
		{FieldChunkIndex, strconv.Itoa(req.Index)},
		{FieldTotalChunks, strconv.Itoa(req.TotalChunks)},
	}

	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("api: writing field %s: %w", f[0], err)
		}
	}

	part, err := mw.CreateFormFile(FieldFile, req.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("api: creating file part: %w", err)
	}

	n, err := io.Copy(part, io.NewSectionReader(req.Data, req.Offset, req.Size))
	if err != nil {
		return nil, "", fmt.Errorf("api: reading chunk %d: %w", req.Index, err)
	}

	if n != req.Size {
		return nil, "", fmt.Errorf("api: chunk %d: read %d bytes, want %d: %w", req.Index, n, req.Size, io.ErrUnexpectedEOF)
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("api: closing multipart writer: %w", err)
	}

	return &buf, mw.FormDataContentType(), nil
}

// FinalizeUpload asks the server to assemble the session. The server answers
// idempotently once a session is assembled.
func (c *Client) FinalizeUpload(ctx context.Context, uploadID string) (*UploadResult, error) {
	c.logger.Info("finalizing upload", slog.String("upload_id", uploadID))

	var res UploadResult
	if err := c.doJSON(ctx, http.MethodPost, pathFinalize, finalizeRequest{UploadID: uploadID}, &res); err != nil {
		return nil, err
	}

	return &res, nil
}
