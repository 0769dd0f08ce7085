// Package blob is an opaque digest-addressed byte store. It exists to answer
// the blob handshake Ollama clients perform before create/push; nothing ever
// reads the bytes back for inference.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/uwuclxdy/ollama-lmstudio-proxy/internal/proxyerr"
)

var baseDir string

// Init sets the storage root, creating it if needed.
func Init(dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, "sha256"), 0o755); err != nil {
		return err
	}
	baseDir = dir
	return nil
}

// parseDigest validates an "algo:hex" reference. Only sha256 is accepted.
func parseDigest(digest string) (string, error) {
	algo, hexPart, found := strings.Cut(digest, ":")
	if !found || algo != "sha256" {
		return "", proxyerr.InvalidRequest("unsupported digest %q: expected sha256:<hex>", digest)
	}
	if len(hexPart) != 64 {
		return "", proxyerr.InvalidRequest("invalid digest %q: expected 64 hex characters", digest)
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return "", proxyerr.InvalidRequest("invalid digest %q: %v", digest, err)
	}
	return hexPart, nil
}

func blobPath(hexPart string) string {
	return filepath.Join(baseDir, "sha256", hexPart)
}

// Exists reports whether the digest has been stored.
func Exists(digest string) (bool, error) {
	hexPart, err := parseDigest(digest)
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(blobPath(hexPart))
	if statErr == nil {
		return true, nil
	}
	if os.IsNotExist(statErr) {
		return false, nil
	}
	return false, statErr
}

// Put stores the body under its digest, verifying the hash while writing.
// The write goes through a temp file so a partial upload is never visible.
func Put(digest string, body io.Reader) error {
	hexPart, err := parseDigest(digest)
	if err != nil {
		return err
	}

	final := blobPath(hexPart)
	tmp := fmt.Sprintf("%s.%d.tmp", final, os.Getpid())

	f, err := os.Create(tmp)
	if err != nil {
		return proxyerr.Internal("create blob file: %v", err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, hasher), body); err != nil {
		f.Close()
		os.Remove(tmp)
		return proxyerr.Internal("write blob: %v", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return proxyerr.Internal("close blob file: %v", err)
	}

	computed := hex.EncodeToString(hasher.Sum(nil))
	if computed != hexPart {
		os.Remove(tmp)
		return proxyerr.InvalidRequest("digest mismatch. Expected %s, computed sha256:%s", digest, computed)
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return proxyerr.Internal("store blob: %v", err)
	}
	return nil
}
