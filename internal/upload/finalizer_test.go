package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminal-terrace/sdm/internal/download"
	"terminal-terrace/sdm/internal/ingest"
	"terminal-terrace/sdm/internal/logging"
	"terminal-terrace/sdm/internal/model/ticket"
)

func TestComplete_CancelledContextKeepsArtifact(t *testing.T) {
	f := newFixture(t, false)
	id := f.begin(t, alice)
	content := []byte("pixels")
	require.NoError(t, f.appendFile(id, "img.dcm", content, sha1hex(content)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.service.Handle(ctx, Request{ID: id, Complete: true, User: alice})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, f.ingester.calls)
	assert.FileExists(t, filepath.Join(f.uploadDir, id+".tar"))

	// 可以重新 complete
	_, err = f.service.Handle(context.Background(), Request{ID: id, Complete: true, User: alice})
	require.NoError(t, err)
	require.Len(t, f.ingester.calls, 1)
	assert.NoFileExists(t, filepath.Join(f.uploadDir, id+".tar"))
}

func TestComplete_ScratchFailureKeepsArtifact(t *testing.T) {
	f := newFixture(t, false)
	id := f.begin(t, alice)

	finalizer := NewFinalizer(f.store, FinalizerOptions{
		ScratchDir: filepath.Join(t.TempDir(), "missing"),
		Ingester:   f.ingester,
		Log:        logging.Discard(),
	})
	err := finalizer.Complete(context.Background(), id)
	require.Error(t, err)
	assert.Empty(t, f.ingester.calls)
	assert.FileExists(t, filepath.Join(f.uploadDir, id+".tar"))
}

func TestComplete_IngestErrorRemovesArtifact(t *testing.T) {
	f := newFixture(t, false)
	id := f.begin(t, alice)

	finalizer := NewFinalizer(f.store, FinalizerOptions{
		ScratchDir: t.TempDir(),
		Ingester:   failingIngester{},
		Log:        logging.Discard(),
	})
	err := finalizer.Complete(context.Background(), id)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(f.uploadDir, id+".tar"))
}

// 上传、完成、入库，再把入库内容打包下载，逐字节比对
func TestRoundTrip_UploadToZipStream(t *testing.T) {
	f := newFixture(t, false)
	id := f.begin(t, alice)

	files := map[string][]byte{}
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("img%04d.dcm", i)
		content := bytes.Repeat([]byte{byte('x' + i)}, 777*(i+1))
		files[name] = content
		require.NoError(t, f.appendFile(id, name, content, sha1hex(content)))
	}
	_, err := f.service.Handle(context.Background(), Request{ID: id, Complete: true, User: alice})
	require.NoError(t, err)
	require.Len(t, f.ingester.calls, 1)

	names, members := readTgz(t, f.ingester.calls[0].content)
	dataDir := t.TempDir()
	targets := make([]ticket.Target, 0, len(names))
	for i, name := range names {
		p := filepath.Join(dataDir, fmt.Sprintf("%d", i))
		require.NoError(t, os.WriteFile(p, members[name], 0o644))
		targets = append(targets, ticket.Target{Path: p, ArcPath: "sdm/" + name, Size: int64(len(members[name]))})
	}

	var buf bytes.Buffer
	log := logging.Discard()
	require.NoError(t, download.NewAssembler(false, log).Stream(context.Background(), &buf, targets))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	got := map[string][]byte{}
	for _, zf := range zr.File {
		rc, err := zf.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		got[zf.Name] = data
	}

	assert.Len(t, got, len(files)+1)
	assert.Equal(t, []byte(scenarioMetadata), got["sdm/1.2.3_1_dicom/METADATA.json"])
	for name, content := range files {
		assert.Equal(t, content, got["sdm/1.2.3_1_dicom/"+name])
	}
}

type failingIngester struct{}

func (failingIngester) Insert(context.Context, string, string, string) (ingest.Result, error) {
	return ingest.Result{}, errors.New("ingest unavailable")
}
