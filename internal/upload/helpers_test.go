package upload

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"terminal-terrace/sdm/internal/ingest"
	"terminal-terrace/sdm/internal/integrity"
	"terminal-terrace/sdm/internal/logging"
	"terminal-terrace/sdm/internal/staging"
	"terminal-terrace/sdm/internal/testutils"
)

func sha1hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

// recordingIngester 保存收到的交付物内容，临时目录随后会被删除
type recordingIngester struct {
	mu      sync.Mutex
	calls   []ingestCall
	respond ingest.Result
}

type ingestCall struct {
	collection string
	hash       string
	content    []byte
}

func (r *recordingIngester) Insert(_ context.Context, collection, path, hash string) (ingest.Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return ingest.Result{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ingestCall{collection: collection, hash: hash, content: content})
	if r.respond.Status == 0 {
		return ingest.Result{Status: 200, Detail: "OK"}, nil
	}
	return r.respond, nil
}

type fixture struct {
	service   *Service
	store     *staging.Store
	ingester  *recordingIngester
	hierarchy *testutils.MemoryHierarchy
	uploadDir string
}

func newFixture(t *testing.T, retain bool) *fixture {
	t.Helper()
	log := logging.Discard()
	uploadDir := t.TempDir()
	scratch := t.TempDir()

	store := staging.NewStore(staging.Options{
		Dir:        uploadDir,
		ScratchDir: scratch,
		Digest:     integrity.SHA1,
		Locker:     staging.NewFileLocker(uploadDir, staging.LockOptions{Timeout: 5 * time.Second}, log),
		Log:        log,
	})
	ing := &recordingIngester{}
	finalizer := NewFinalizer(store, FinalizerOptions{
		ScratchDir:      scratch,
		Ingester:        ing,
		RetainOnFailure: retain,
		Log:             log,
	})
	h := testutils.NewMemoryHierarchy()
	h.AddProject("g", "p", testutils.WithMember("alice@example.org", "rw"))

	return &fixture{
		service: NewService(Options{
			Store:      store,
			Finalizer:  finalizer,
			Authorizer: h,
			Ingester:   ing,
			ScratchDir: scratch,
			Log:        log,
		}),
		store:     store,
		ingester:  ing,
		hierarchy: h,
		uploadDir: uploadDir,
	}
}

// readTgz 解压交付物，返回成员名到内容的映射与顺序
func readTgz(t *testing.T, data []byte) ([]string, map[string][]byte) {
	t.Helper()
	gr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gr.Close()

	var names []string
	members := map[string][]byte{}
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		names = append(names, hdr.Name)
		members[hdr.Name] = content
	}
	return names, members
}

func tarBytes(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	return buf.Bytes()
}
