package storage

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"godeploy/logging"
	"godeploy/shared/model"
	"godeploy/store"
)

const indexDocument = "index.html"

// ProjectResolver finds the project published under a domain name.
type ProjectResolver interface {
	FindProjectByDomain(ctx context.Context, domainName string) (*model.Project, error)
}

// SiteHandler serves published builds. The first label of the request host
// names the project, so site.apps.example.com serves the project whose
// domain name is "site".
type SiteHandler struct {
	objects  ObjectStore
	projects ProjectResolver
	log      *logrus.Entry
}

func NewSiteHandler(objects ObjectStore, projects ProjectResolver) *SiteHandler {
	return &SiteHandler{
		objects:  objects,
		projects: projects,
		log:      logging.C("sites"),
	}
}

func (h *SiteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	subdomain := siteName(r.Host)
	project, err := h.projects.FindProjectByDomain(r.Context(), subdomain)
	if errors.Is(err, store.ErrProjectNotFound) {
		http.Error(w, "Project not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Errorf("❌ Failed to resolve %s: %v", subdomain, err)
		http.Error(w, "Error resolving project", http.StatusInternalServerError)
		return
	}

	file := sitePath(r.URL.Path)
	data, err := h.objects.GetObject(r.Context(), project.ID+"/"+file)
	if errors.Is(err, ErrObjectNotFound) {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.WithField("project_id", project.ID).Errorf("❌ Failed to load %s: %v", file, err)
		http.Error(w, "Failed to load file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType(file, data))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(data)
}

func siteName(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	name, _, _ := strings.Cut(host, ".")
	return strings.ToLower(name)
}

// sitePath maps a request path onto an object key below the project. The
// root and directories resolve to their index document.
func sitePath(urlPath string) string {
	file := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if file == "" || strings.HasSuffix(urlPath, "/") {
		return path.Join(file, indexDocument)
	}
	return file
}
