package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartUpload_RequestBody(t *testing.T) {
	t.Parallel()

	var got StartRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/presentations/upload/start", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"upload_id":"abc"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/api/presentations/")

	id, err := c.StartUpload(context.Background(), StartRequest{Filename: "deck.pptx", FileSize: 12, TotalChunks: 3})
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
	assert.Equal(t, StartRequest{Filename: "deck.pptx", FileSize: 12, TotalChunks: 3}, got)
}

func TestStartUpload_EmptyID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.StartUpload(context.Background(), StartRequest{Filename: "a", FileSize: 1, TotalChunks: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty upload_id")
}

func TestCheckUpload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		wantNil  bool
		wantGone bool
	}{
		{"live", http.StatusOK, true, false},
		{"not found", http.StatusNotFound, false, true},
		{"gone", http.StatusGone, false, true},
		{"bad request", http.StatusBadRequest, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/upload/id%20with%20space", r.URL.EscapedPath())
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := newTestClient(t, srv.URL).CheckUpload(context.Background(), "id with space")
			if tt.wantNil {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Equal(t, tt.wantGone, errors.Is(err, ErrSessionGone))
		})
	}
}

func TestCheckUpload_ServerErrorIsNotGone(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).CheckUpload(context.Background(), "u")
	require.ErrorIs(t, err, ErrServerError)
	assert.NotErrorIs(t, err, ErrSessionGone)
}

func TestCheckUpload_SingleAttempt(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	// Default retry settings apply to start and finalize only.
	c := NewClient(srv.URL, srv.Client(), nil)

	err := c.CheckUpload(context.Background(), "u")
	require.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStartUpload_NotRepeatedAfterDroppedConnection(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)

		hj, ok := w.(http.Hijacker)
		if !assert.True(t, ok) {
			return
		}

		conn, _, err := hj.Hijack()
		if assert.NoError(t, err) {
			conn.Close()
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	_, err := c.StartUpload(context.Background(), StartRequest{Filename: "a.pdf", FileSize: 1, TotalChunks: 1})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "a second start would orphan a session")
}

func TestUploadChunk_Multipart(t *testing.T) {
	t.Parallel()

	content := []byte("0123456789abcdef")

	var (
		gotFields map[string]string
		gotData   []byte
		gotName   string
		calls     int
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++

		assert.Equal(t, "/upload/chunk", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))

		gotFields = map[string]string{
			FieldUploadID:    r.FormValue(FieldUploadID),
			FieldChunkIndex:  r.FormValue(FieldChunkIndex),
			FieldTotalChunks: r.FormValue(FieldTotalChunks),
		}

		f, hdr, err := r.FormFile(FieldFile)
		if assert.NoError(t, err) {
			defer f.Close()
			gotName = hdr.Filename
			gotData, _ = io.ReadAll(f)
		}

		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	err := c.UploadChunk(context.Background(), ChunkRequest{
		UploadID:    "u-9",
		Filename:    "deck.pdf",
		Index:       1,
		TotalChunks: 3,
		Data:        bytes.NewReader(content),
		Offset:      5,
		Size:        5,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, map[string]string{
		FieldUploadID:    "u-9",
		FieldChunkIndex:  "1",
		FieldTotalChunks: "3",
	}, gotFields)
	assert.Equal(t, "deck.pdf", gotName)
	assert.Equal(t, []byte("56789"), gotData)
}

func TestUploadChunk_SingleAttempt(t *testing.T) {
	t.Parallel()

	calls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).UploadChunk(context.Background(), ChunkRequest{
		UploadID: "u", Filename: "a", TotalChunks: 1,
		Data: bytes.NewReader([]byte("x")), Size: 1,
	})
	require.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, 1, calls, "chunk retries belong to the caller")
}

func TestUploadChunk_ShortRead(t *testing.T) {
	t.Parallel()

	_, _, err := encodeChunk(ChunkRequest{
		Index: 2,
		Data:  bytes.NewReader([]byte("abc")),
		Size:  10,
	})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFinalizeUpload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req finalizeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "u-3", req.UploadID)

		w.Write([]byte(`{"id":42,"filename":"deck.pptx","user_id":"7",` +
			`"upload_date":"2026-03-01T10:00:00Z","presentation_metadata":{"slides":12}}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).FinalizeUpload(context.Background(), "u-3")
	require.NoError(t, err)
	assert.Equal(t, ArtifactID("42"), res.ID)
	assert.Equal(t, "deck.pptx", res.Filename)
	assert.Equal(t, "7", res.UserID)
	assert.Equal(t, 2026, res.UploadDate.Year())
	assert.Equal(t, time.UTC, res.UploadDate.Location())
	assert.InDelta(t, 12, res.Metadata["slides"], 0)
}

func TestFinalizeUpload_Incomplete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"detail":"1 of 3 chunks missing","code":"incomplete"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).FinalizeUpload(context.Background(), "u")
	require.ErrorIs(t, err, ErrFinalizeIncomplete)
	assert.Contains(t, err.Error(), "1 of 3 chunks missing")
}

func TestTimestamp_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"rfc3339", `"2026-03-01T10:00:00Z"`, want},
		{"offset", `"2026-03-01T12:00:00+02:00"`, want},
		{"naive", `"2026-03-01T10:00:00"`, want},
		{"naive micros", `"2026-03-01T10:00:00.250000"`, want.Add(250 * time.Millisecond)},
		{"naive space", `"2026-03-01 10:00:00"`, want},
		{"null", `null`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var ts Timestamp
			require.NoError(t, json.Unmarshal([]byte(tt.in), &ts))
			assert.True(t, tt.want.Equal(ts.Time), "got %s", ts.Time)
		})
	}

	var ts Timestamp
	require.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	require.Error(t, json.Unmarshal([]byte(`12`), &ts))
}

func TestFinalizeUpload_NaiveUploadDate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"id":1,"filename":"deck.pdf","upload_date":"2026-03-01T10:00:00.123456"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).FinalizeUpload(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, 2026, res.UploadDate.Year())
}

func TestArtifactID_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	var id ArtifactID

	require.NoError(t, json.Unmarshal([]byte(`"abc"`), &id))
	assert.Equal(t, ArtifactID("abc"), id)

	require.NoError(t, json.Unmarshal([]byte(`123`), &id))
	assert.Equal(t, ArtifactID("123"), id)

	require.Error(t, json.Unmarshal([]byte(`{}`), &id))
}
