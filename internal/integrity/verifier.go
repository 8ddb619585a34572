// Package integrity 流式摘要计算与校验
package integrity

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"

	"terminal-terrace/sdm/packages/response"
)

// ChunkSize 每次读取的块大小
const ChunkSize = 1 << 20

// Algorithm 摘要算法
type Algorithm string

const (
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	MD5    Algorithm = "md5"
	BLAKE3 Algorithm = "blake3"
	// BLAKE2B 即 blake2b-256
	BLAKE2B Algorithm = "blake2b"
)

// ParseAlgorithm 解析配置中的算法名
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(name)); a {
	case SHA1, SHA256, MD5, BLAKE3, BLAKE2B:
		return a, nil
	case "":
		return SHA1, nil
	default:
		return "", fmt.Errorf("unknown digest algorithm %q", name)
	}
}

// New 创建对应算法的 hash.Hash
func (a Algorithm) New() hash.Hash {
	switch a {
	case SHA256:
		return sha256.New()
	case MD5:
		return md5.New()
	case BLAKE3:
		return blake3.New()
	case BLAKE2B:
		// 不带密钥时不会出错
		h, _ := blake2b.New256(nil)
		return h
	default:
		return sha1.New()
	}
}

// Digest 流式计算 r 的十六进制摘要，同时写入 dst（可为 nil）
// 返回写入的字节数
func (a Algorithm) Digest(dst io.Writer, r io.Reader) (string, int64, error) {
	h := a.New()
	w := io.Writer(h)
	if dst != nil {
		w = io.MultiWriter(h, dst)
	}
	buf := make([]byte, ChunkSize)
	n, err := io.CopyBuffer(w, r, buf)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Verify 流式读取 r 并写入 dst，结束后与 declared 比较
// 不一致时返回 IntegrityError；调用方负责丢弃 dst 中已写入的内容
func (a Algorithm) Verify(dst io.Writer, r io.Reader, declared string) (int64, error) {
	sum, n, err := a.Digest(dst, r)
	if err != nil {
		return n, err
	}
	if sum != declared {
		return n, response.Integrity("Content-MD5 mismatch.")
	}
	return n, nil
}

// DigestFile 计算文件摘要
func (a Algorithm) DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sum, _, err := a.Digest(nil, f)
	return sum, err
}
