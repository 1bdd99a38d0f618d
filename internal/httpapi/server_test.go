package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stash-go/internal/config"
	"stash-go/internal/metrics"
	"stash-go/internal/stash"
	"stash-go/internal/testutil"
)

const ownerHeader = "X-Remote-User"

func newTestServer(t *testing.T, maxSize int64) (*Server, *stash.StashService) {
	t.Helper()
	db := testutil.NewTestDatabase(t)
	enc := testutil.NewTestEncryptor()
	sa := testutil.NewTestStagingAreaWithSize(enc, maxSize)
	blobs := testutil.NewTestBlobStore(sa)
	m := metrics.New()
	svc := stash.NewStashService(db, sa, blobs, testutil.UnlockTest(t, enc),
		stash.NewNopLogger(), m, testutil.FixedClock(), testutil.NewStubIDGenerator())

	cfg := config.ServerConfig{OwnerHeader: ownerHeader}
	return New(svc, stash.NewNopLogger(), cfg, m.Handler()), svc
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("comment", "ignored"))
	for name, content := range files {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func do(s *Server, owner string, req *http.Request) *httptest.ResponseRecorder {
	if owner != "" {
		req.Header.Set(ownerHeader, owner)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func uploadOne(t *testing.T, s *Server, owner, dir, name, content string) FileResponse {
	t.Helper()
	body, ct := multipartBody(t, map[string]string{name: content})
	req := httptest.NewRequest(http.MethodPost, "/api/dirs/"+dir+"/files", body)
	req.Header.Set("Content-Type", ct)
	w := do(s, owner, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 1)
	return resp.Files[0]
}

func TestServer_UploadAndDownload(t *testing.T) {
	s, _ := newTestServer(t, 0)

	f := uploadOne(t, s, "alice", "root", "notes.txt", "hello world")
	assert.Equal(t, "notes.txt", f.Name)
	assert.Equal(t, int64(11), f.Size)
	assert.Equal(t, "11B", f.SizeHuman)
	assert.Equal(t, testutil.SHA256Hex([]byte("hello world")), f.Hash)

	w := do(s, "alice", httptest.NewRequest(http.MethodGet, "/api/files/"+f.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello world", w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
	assert.Equal(t, `attachment; filename=notes.txt`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "11", w.Header().Get("Content-Length"))
}

func TestServer_DownloadUnknownExtension(t *testing.T) {
	s, _ := newTestServer(t, 0)
	f := uploadOne(t, s, "alice", "root", "blob.zzzunknown", "x")

	w := do(s, "alice", httptest.NewRequest(http.MethodGet, "/api/files/"+f.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
}

func TestServer_UploadMultipleParts(t *testing.T) {
	s, _ := newTestServer(t, 0)
	body, ct := multipartBody(t, map[string]string{"a.txt": "same", "b.txt": "same"})
	req := httptest.NewRequest(http.MethodPost, "/api/dirs/root/files", body)
	req.Header.Set("Content-Type", ct)

	w := do(s, "alice", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 2)
	assert.Equal(t, resp.Files[0].Hash, resp.Files[1].Hash)
}

func TestServer_UploadErrors(t *testing.T) {
	s, _ := newTestServer(t, 4)

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/dirs/root/files", strings.NewReader("raw"))
		w := do(s, "alice", req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no file parts", func(t *testing.T) {
		body, ct := multipartBody(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/dirs/root/files", body)
		req.Header.Set("Content-Type", ct)
		w := do(s, "alice", req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("too large", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"big.bin": "0123456789"})
		req := httptest.NewRequest(http.MethodPost, "/api/dirs/root/files", body)
		req.Header.Set("Content-Type", ct)
		w := do(s, "alice", req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("unknown directory", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"a.txt": "a"})
		req := httptest.NewRequest(http.MethodPost, "/api/dirs/nope/files", body)
		req.Header.Set("Content-Type", ct)
		w := do(s, "alice", req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("later part fails", func(t *testing.T) {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		for _, part := range []struct{ name, content string }{
			{"first.txt", "ok"},
			{"second.bin", "0123456789"},
		} {
			fw, err := mw.CreateFormFile("file", part.name)
			require.NoError(t, err)
			_, err = io.WriteString(fw, part.content)
			require.NoError(t, err)
		}
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/dirs/root/files", body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := do(s, "bob", req)
		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

		var resp ErrResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "upload too large", resp.Error)
		require.Len(t, resp.Files, 1)
		assert.Equal(t, "first.txt", resp.Files[0].Name)

		w = do(s, "bob", httptest.NewRequest(http.MethodGet, "/api/dirs/root", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var listing ListingResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
		require.Len(t, listing.Files, 1)
		assert.Equal(t, resp.Files[0].ID, listing.Files[0].ID)
	})

	t.Run("plain errors carry no file list", func(t *testing.T) {
		body, ct := multipartBody(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/dirs/root/files", body)
		req.Header.Set("Content-Type", ct)
		w := do(s, "alice", req)
		assert.NotContains(t, w.Body.String(), `"files"`)
	})
}

func TestServer_MissingOwner(t *testing.T) {
	s, _ := newTestServer(t, 0)
	w := do(s, "", httptest.NewRequest(http.MethodGet, "/api/dirs/root", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_Routing(t *testing.T) {
	s, _ := newTestServer(t, 0)

	w := do(s, "alice", httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, "alice", httptest.NewRequest(http.MethodPut, "/api/files/x", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_OwnerIsolation(t *testing.T) {
	s, _ := newTestServer(t, 0)
	f := uploadOne(t, s, "alice", "root", "secret.txt", "mine")

	w := do(s, "bob", httptest.NewRequest(http.MethodGet, "/api/files/"+f.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, "bob", httptest.NewRequest(http.MethodDelete, "/api/files/"+f.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, "alice", httptest.NewRequest(http.MethodGet, "/api/files/"+f.ID+"/info", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_DeleteFile(t *testing.T) {
	s, _ := newTestServer(t, 0)
	f := uploadOne(t, s, "alice", "root", "a.txt", "a")

	w := do(s, "alice", httptest.NewRequest(http.MethodDelete, "/api/files/"+f.ID, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(s, "alice", httptest.NewRequest(http.MethodGet, "/api/files/"+f.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_RenameFile(t *testing.T) {
	s, _ := newTestServer(t, 0)
	f := uploadOne(t, s, "alice", "root", "a.txt", "a")
	uploadOne(t, s, "alice", "root", "taken.txt", "b")

	rename := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/api/files/"+f.ID, strings.NewReader(body))
		return do(s, "alice", req)
	}

	w := rename(`{"name":"renamed.txt"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp FileResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "renamed.txt", resp.Name)

	w = rename(`{"name":"taken.txt"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEqual(t, "taken.txt", resp.Name)

	assert.Equal(t, http.StatusBadRequest, rename(`{"name":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, rename(`not json`).Code)
}

func TestServer_Directories(t *testing.T) {
	s, _ := newTestServer(t, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/dirs/root/dirs", strings.NewReader(`{"name":"docs"}`))
	w := do(s, "alice", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var dir DirectoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dir))
	assert.Equal(t, "/docs", dir.Path)

	req = httptest.NewRequest(http.MethodPost, "/api/dirs/root/dirs", strings.NewReader(`{"name":"docs"}`))
	assert.Equal(t, http.StatusConflict, do(s, "alice", req).Code)

	uploadOne(t, s, "alice", dir.ID, "a.txt", "a")
	uploadOne(t, s, "alice", "root", "top.txt", "top")

	w = do(s, "alice", httptest.NewRequest(http.MethodGet, "/api/dirs/root", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var listing ListingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, "/", listing.Directory.Path)
	require.Len(t, listing.Directories, 1)
	assert.Equal(t, "docs", listing.Directories[0].Name)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, "top.txt", listing.Files[0].Name)

	w = do(s, "alice", httptest.NewRequest(http.MethodDelete, "/api/dirs/"+dir.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var del DeleteDirectoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &del))
	assert.Equal(t, 1, del.DeletedFiles)

	w = do(s, "alice", httptest.NewRequest(http.MethodDelete, "/api/dirs/root", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t, 0)
	uploadOne(t, s, "alice", "root", "a.txt", "a")

	w := do(s, "", httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `stash_uploads_total{blob="created"} 1`)
}
