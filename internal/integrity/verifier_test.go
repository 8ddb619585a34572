package integrity

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terminal-terrace/sdm/packages/response"
)

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Algorithm
		wantErr bool
	}{
		{"默认 sha1", "", SHA1, false},
		{"大写", "SHA256", SHA256, false},
		{"blake3", "blake3", BLAKE3, false},
		{"md5", "md5", MD5, false},
		{"blake2b", "Blake2b", BLAKE2B, false},
		{"未知算法", "crc32", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerify_Match(t *testing.T) {
	payload := bytes.Repeat([]byte("dicom"), 3*ChunkSize/5+17)
	var dst bytes.Buffer

	n, err := SHA1.Verify(&dst, bytes.NewReader(payload), sha1Hex(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, dst.Bytes())
}

func TestVerify_Mismatch(t *testing.T) {
	var dst bytes.Buffer
	_, err := SHA1.Verify(&dst, strings.NewReader("abc"), sha1Hex([]byte("abd")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, response.ErrIntegrity))
	assert.Equal(t, 400, response.AsBusinessError(err).HTTPStatus())
}

func TestDigest_Algorithms(t *testing.T) {
	for _, a := range []Algorithm{SHA1, SHA256, MD5, BLAKE3, BLAKE2B} {
		t.Run(string(a), func(t *testing.T) {
			sum1, _, err := a.Digest(nil, strings.NewReader("same input"))
			require.NoError(t, err)
			sum2, _, err := a.Digest(nil, strings.NewReader("same input"))
			require.NoError(t, err)
			assert.Equal(t, sum1, sum2)
			assert.Len(t, sum1, a.New().Size()*2)
		})
	}
}

func TestDigest_Blake2bEmpty(t *testing.T) {
	sum, n, err := BLAKE2B.Digest(nil, strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8", sum)
}
