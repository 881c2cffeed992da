package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"godeploy/shared/model"
	"godeploy/store"
)

type domainTable map[string]string

func (d domainTable) FindProjectByDomain(_ context.Context, domainName string) (*model.Project, error) {
	id, ok := d[domainName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrProjectNotFound, domainName)
	}
	return &model.Project{ID: id, DomainName: domainName}, nil
}

func TestSiteHandler(t *testing.T) {
	ctx := context.Background()
	disk, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	for key, body := range map[string]string{
		"proj-1/index.html":      "<html>home</html>",
		"proj-1/assets/app.js":   "console.log(1)",
		"proj-1/docs/index.html": "<html>docs</html>",
		"proj-2/index.html":      "<html>other</html>",
	} {
		require.NoError(t, disk.PutObject(ctx, key, []byte(body)))
	}
	h := NewSiteHandler(disk, domainTable{"acme-site": "proj-1", "other": "proj-2"})

	get := func(method, host, target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, nil)
		req.Host = host
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := get(http.MethodGet, "acme-site.apps.example.com:8080", "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>home</html>", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	rec = get(http.MethodGet, "acme-site.apps.example.com", "/assets/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")

	rec = get(http.MethodGet, "ACME-SITE.apps.example.com", "/docs/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>docs</html>", rec.Body.String())

	rec = get(http.MethodGet, "other.apps.example.com", "/")
	assert.Equal(t, "<html>other</html>", rec.Body.String())

	rec = get(http.MethodHead, "other.apps.example.com", "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(http.MethodGet, "ghost.apps.example.com", "/").Code)
	assert.Equal(t, http.StatusNotFound, get(http.MethodGet, "acme-site.apps.example.com", "/missing.css").Code)
	assert.Equal(t, http.StatusNotFound, get(http.MethodGet, "acme-site.apps.example.com", "/../proj-2/index.html").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, get(http.MethodPost, "acme-site.apps.example.com", "/").Code)
}

func TestSitePath(t *testing.T) {
	assert.Equal(t, "index.html", sitePath("/"))
	assert.Equal(t, "index.html", sitePath(""))
	assert.Equal(t, "about.html", sitePath("/about.html"))
	assert.Equal(t, "blog/index.html", sitePath("/blog/"))
	assert.Equal(t, "etc/passwd", sitePath("/../../etc/passwd"))
}

func TestSiteName(t *testing.T) {
	assert.Equal(t, "site", siteName("site.apps.example.com"))
	assert.Equal(t, "site", siteName("Site.apps.example.com:443"))
	assert.Equal(t, "localhost", siteName("localhost:8080"))
}
