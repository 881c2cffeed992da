package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) PutObject(_ context.Context, key string, data []byte) error {
	if m.failOn != "" && strings.HasSuffix(key, m.failOn) {
		return errors.New("bucket unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) GetObject(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[key], nil
}

func (m *memStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return root
}

func TestPublishUploadsEveryFile(t *testing.T) {
	dir := writeTree(t, map[string]string{"a": "A", "b/c": "C"})
	store := newMemStore()

	res, err := NewPublisher(store, Options{}).Publish(context.Background(), "proj-1", dir)
	require.NoError(t, err)
	assert.Equal(t, Result{Uploaded: 2}, res)
	assert.Equal(t, []string{"proj-1/a", "proj-1/b/c"}, store.keys())
	assert.Equal(t, "C", string(store.objects["proj-1/b/c"]))
}

func TestPublishEmptyDirectory(t *testing.T) {
	store := newMemStore()
	res, err := NewPublisher(store, Options{}).Publish(context.Background(), "proj-1", t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, res.Uploaded)
	assert.Empty(t, store.keys())
}

func TestPublishContinuesPastFailures(t *testing.T) {
	dir := writeTree(t, map[string]string{"ok.js": "1", "broken.css": "2", "deep/x/y.html": "3"})
	store := newMemStore()
	store.failOn = "broken.css"

	res, err := NewPublisher(store, Options{Concurrency: 1}).Publish(context.Background(), "p", dir)
	require.NoError(t, err)
	assert.Equal(t, Result{Uploaded: 2, Failed: 1}, res)
	assert.Equal(t, []string{"p/deep/x/y.html", "p/ok.js"}, store.keys())
}

func TestPublishFailOnError(t *testing.T) {
	dir := writeTree(t, map[string]string{"ok.js": "1", "broken.css": "2"})
	store := newMemStore()
	store.failOn = "broken.css"

	res, err := NewPublisher(store, Options{FailOnError: true}).Publish(context.Background(), "p", dir)
	assert.Error(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Uploaded)
}

func TestPublishMissingDirectory(t *testing.T) {
	_, err := NewPublisher(newMemStore(), Options{}).Publish(context.Background(), "p", filepath.Join(t.TempDir(), "dist"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "p/b/c", Key("p", filepath.Join("b", "c")))
}
