package storage

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"godeploy/logging"
)

// maxObjectSize caps a single upload.
const maxObjectSize = 256 << 20

// Server exposes an ObjectStore over HTTP. HTTPStore is its client.
type Server struct {
	store ObjectStore
	log   *logrus.Entry
}

func NewServer(store ObjectStore) *Server {
	return &Server{store: store, log: logging.C("storage")}
}

func (s *Server) Routes(r *mux.Router) {
	r.HandleFunc("/objects/{key:.+}", s.GetObject).Methods(http.MethodGet)
	r.HandleFunc("/objects/{key:.+}", s.PutObject).Methods(http.MethodPut)
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.Routes(r)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func (s *Server) GetObject(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	data, err := s.store.GetObject(r.Context(), key)
	if errors.Is(err, ErrObjectNotFound) {
		http.Error(w, "Object not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Errorf("❌ Failed to read %s: %v", key, err)
		http.Error(w, "Error reading object", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType(key, data))
	_, _ = w.Write(data)
}

// contentType prefers the extension and falls back to sniffing the data.
func contentType(key string, data []byte) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

func (s *Server) PutObject(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if _, err := CleanKey(key); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxObjectSize+1))
	if err != nil {
		http.Error(w, "Error reading body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) > maxObjectSize {
		http.Error(w, "Object too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err := s.store.PutObject(r.Context(), key, data); err != nil {
		s.log.Errorf("❌ Failed to store %s: %v", key, err)
		http.Error(w, "Error saving object", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	s.log.Debugf("✅ Stored object %s (%d bytes)", key, len(data))
}
