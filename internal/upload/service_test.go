package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminal-terrace/sdm/internal/ingest"
	authsdk "terminal-terrace/sdm/packages/auth-sdk"
	"terminal-terrace/sdm/packages/response"
)

var (
	alice = &authsdk.UserContext{UserID: 1, Email: "alice@example.org"}
	bob   = &authsdk.UserContext{UserID: 2, Email: "bob@example.org"}
	drone = &authsdk.UserContext{Drone: true}
)

const scenarioMetadata = `{"filetype":"dicom","overwrite":{"group_name":"g","project_name":"p","series_uid":"1.2.3","acq_no":1,"manufacturer":"GE"}}`

func (f *fixture) begin(t *testing.T, user *authsdk.UserContext) string {
	t.Helper()
	body := []byte(scenarioMetadata)
	res, err := f.service.Handle(context.Background(), Request{
		Filename: "metadata.json",
		Digest:   sha1hex(body),
		Body:     bytes.NewReader(body),
		User:     user,
	})
	require.NoError(t, err)
	require.Equal(t, PhaseMetadata, res.Phase)
	require.NotEmpty(t, res.ID)
	return res.ID
}

func (f *fixture) appendFile(id, name string, content []byte, digest string) error {
	_, err := f.service.Handle(context.Background(), Request{
		ID:       id,
		Filename: name,
		Digest:   digest,
		Body:     bytes.NewReader(content),
		User:     alice,
	})
	return err
}

func TestHandle_MetadataCreatesStagingArtifact(t *testing.T) {
	f := newFixture(t, false)
	id := f.begin(t, alice)

	sess, err := f.store.Stat(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3_1_dicom", sess.Root)
	require.Len(t, sess.Members, 1)
	assert.Equal(t, "1.2.3_1_dicom/METADATA.json", sess.Members[0].Name)
}

func TestHandle_MetadataFilenameCaseInsensitive(t *testing.T) {
	f := newFixture(t, false)
	body := []byte(scenarioMetadata)
	res, err := f.service.Handle(context.Background(), Request{
		Filename: "METADATA.JSON",
		Digest:   sha1hex(body),
		Body:     bytes.NewReader(body),
		User:     alice,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ID)
}

func TestHandle_MetadataPermission(t *testing.T) {
	f := newFixture(t, false)
	body := []byte(scenarioMetadata)

	_, err := f.service.Handle(context.Background(), Request{
		Filename: "metadata.json",
		Digest:   sha1hex(body),
		Body:     bytes.NewReader(body),
		User:     bob,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, response.ErrPermission))
	assert.Equal(t, 403, response.AsBusinessError(err).HTTPStatus())

	entries, err := os.ReadDir(f.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// 设备请求视为超级用户
	f.begin(t, drone)
}

func TestHandle_MetadataSchemaViolation(t *testing.T) {
	f := newFixture(t, false)
	body := []byte(`{"filetype":"dicom"}`)
	_, err := f.service.Handle(context.Background(), Request{
		Filename: "metadata.json",
		Digest:   sha1hex(body),
		Body:     bytes.NewReader(body),
		User:     alice,
	})
	assert.True(t, errors.Is(err, response.ErrValidation))
}

func TestHandle_MetadataDigestMismatch(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.service.Handle(context.Background(), Request{
		Filename: "metadata.json",
		Digest:   sha1hex([]byte("other")),
		Body:     bytes.NewReader([]byte(scenarioMetadata)),
		User:     alice,
	})
	require.Error(t, err)
	assert.Equal(t, "Content-MD5 mismatch.", response.AsBusinessError(err).Msg)
}

func TestHandle_AppendWithWrongDigestKeepsSingleMember(t *testing.T) {
	f := newFixture(t, false)
	id := f.begin(t, alice)

	err := f.appendFile(id, "img0001.dcm", []byte("pixels"), sha1hex([]byte("not pixels")))
	require.Error(t, err)
	assert.Equal(t, 400, response.AsBusinessError(err).HTTPStatus())
	assert.True(t, errors.Is(err, response.ErrIntegrity))

	sess, err := f.store.Stat(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, sess.Members, 1)
}

func TestHandle_AppendUnknownUpload(t *testing.T) {
	f := newFixture(t, false)
	err := f.appendFile("5f1e2d3c4b5a69788796a5b4", "img.dcm", []byte("x"), sha1hex([]byte("x")))
	assert.True(t, errors.Is(err, response.ErrNotFound))
}

func TestHandle_AppendRequiresDigest(t *testing.T) {
	f := newFixture(t, false)
	id := f.begin(t, alice)
	err := f.appendFile(id, "img.dcm", []byte("x"), "")
	assert.True(t, errors.Is(err, response.ErrValidation))
}

func TestHandle_InvalidCombination(t *testing.T) {
	f := newFixture(t, false)
	for _, req := range []Request{
		{},
		{Filename: "img.dcm"},
		{ID: "abc"},
	} {
		_, err := f.service.Handle(context.Background(), req)
		require.Error(t, err)
		be := response.AsBusinessError(err)
		assert.Equal(t, "expected _id, filename, and/or complete", be.Msg)
		assert.Equal(t, 400, be.HTTPStatus())
	}
}

func TestHandle_CompleteDeliversAllMembers(t *testing.T) {
	f := newFixture(t, false)
	id := f.begin(t, alice)

	files := map[string][]byte{}
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("img%04d.dcm", i)
		content := bytes.Repeat([]byte{byte('a' + i)}, 1000*(i+1))
		files[name] = content
		require.NoError(t, f.appendFile(id, name, content, sha1hex(content)))
	}

	res, err := f.service.Handle(context.Background(), Request{ID: id, Complete: true, User: alice})
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, res.Phase)

	require.Len(t, f.ingester.calls, 1)
	call := f.ingester.calls[0]
	assert.Equal(t, Collection, call.collection)
	assert.Equal(t, sha1hex(call.content), call.hash)

	names, members := readTgz(t, call.content)
	assert.Equal(t, []string{
		"1.2.3_1_dicom/METADATA.json",
		"1.2.3_1_dicom/img0000.dcm",
		"1.2.3_1_dicom/img0001.dcm",
		"1.2.3_1_dicom/img0002.dcm",
	}, names)
	assert.Equal(t, []byte(scenarioMetadata), members["1.2.3_1_dicom/METADATA.json"])
	for name, content := range files {
		assert.Equal(t, content, members["1.2.3_1_dicom/"+name])
	}

	// 暂存包已删除
	_, err = f.store.Stat(context.Background(), id)
	assert.True(t, errors.Is(err, response.ErrNotFound))
	_, err = f.service.Handle(context.Background(), Request{ID: id, Complete: true})
	assert.True(t, errors.Is(err, response.ErrNotFound))
}

func TestHandle_CompleteIngestFailure(t *testing.T) {
	tests := []struct {
		name       string
		retain     bool
		wantExists bool
	}{
		{"默认删除暂存包", false, false},
		{"配置保留暂存包", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.retain)
			f.ingester.respond = ingest.Result{Status: 409, Detail: "duplicate series"}
			id := f.begin(t, alice)

			_, err := f.service.Handle(context.Background(), Request{ID: id, Complete: true})
			require.Error(t, err)
			be := response.AsBusinessError(err)
			assert.Equal(t, 409, be.HTTPStatus())
			assert.Equal(t, "duplicate series", be.Msg)

			_, statErr := os.Stat(filepath.Join(f.uploadDir, id+".tar"))
			assert.Equal(t, tt.wantExists, statErr == nil)
		})
	}
}

func TestUpload_SingleShot(t *testing.T) {
	f := newFixture(t, false)
	payload := tarBytes(t, "series/img.dcm", []byte("pixels"))

	err := f.service.Upload(context.Background(), "series.tar", bytes.NewReader(payload), sha1hex(payload), drone)
	require.NoError(t, err)
	require.Len(t, f.ingester.calls, 1)
	assert.Equal(t, payload, f.ingester.calls[0].content)
	assert.Equal(t, sha1hex(payload), f.ingester.calls[0].hash)
}

func TestUpload_RejectsNonTar(t *testing.T) {
	f := newFixture(t, false)
	payload := []byte("definitely not a tar archive")

	err := f.service.Upload(context.Background(), "", bytes.NewReader(payload), sha1hex(payload), drone)
	require.Error(t, err)
	assert.True(t, errors.Is(err, response.ErrUnsupportedFormat))
	assert.Equal(t, 415, response.AsBusinessError(err).HTTPStatus())
	assert.Empty(t, f.ingester.calls)
}

func TestUpload_RejectsPathFilename(t *testing.T) {
	f := newFixture(t, false)
	err := f.service.Upload(context.Background(), "../x.tar", bytes.NewReader(nil), sha1hex(nil), drone)
	assert.True(t, errors.Is(err, response.ErrValidation))
}

func TestIsTarArchive_Gzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.tgz")

	// 交付物本身就是 gzip 压缩的 tar
	f := newFixture(t, false)
	id := f.begin(t, alice)
	require.NoError(t, f.store.Finalize(context.Background(), id, func(artifact string) error {
		return repack(context.Background(), artifact, path)
	}))

	ok, err := isTarArchive(path)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStatus_RequiresProjectAccess(t *testing.T) {
	f := newFixture(t, false)
	id := f.begin(t, alice)
	content := []byte("pixels")
	require.NoError(t, f.appendFile(id, "img.dcm", content, sha1hex(content)))

	sess, err := f.service.Status(context.Background(), id, alice)
	require.NoError(t, err)
	assert.Len(t, sess.Members, 2)

	_, err = f.service.Status(context.Background(), id, drone)
	require.NoError(t, err)

	_, err = f.service.Status(context.Background(), id, bob)
	require.Error(t, err)
	assert.Equal(t, 403, response.AsBusinessError(err).HTTPStatus())

	_, err = f.service.Status(context.Background(), "missing", alice)
	assert.True(t, errors.Is(err, response.ErrNotFound))
}
