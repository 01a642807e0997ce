// Package blind derives the A/B placement of paired responses from a secret.
// The same secret always yields the same placement and order; without it neither can be recovered.
package blind

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/thywilljoshua/chart-context-study/internal/domain"
)

const secretBytes = 32

func mac(secret []byte, msg string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(msg))
	return h.Sum(nil)
}

// Assign places the with-context response in position A iff the first bit of HMAC-SHA256(secret, imageID) is set.
func Assign(secret []byte, imageID string) domain.Assignment {
	a := domain.Assignment{ImageID: imageID, AMode: domain.WithoutContext}
	if mac(secret, imageID)[0]&0x80 != 0 {
		a.AMode = domain.WithContext
	}
	return a
}

// Texts returns the responses in presentation order for a.
func Texts(a domain.Assignment, withContext, withoutContext string) (textA, textB string) {
	if a.AMode == domain.WithContext {
		return withContext, withoutContext
	}
	return withoutContext, withContext
}

// Order returns ids in a secret-keyed order that does not follow the dataset order.
func Order(secret []byte, ids []string) []string {
	keys := make(map[string][]byte, len(ids))
	for _, id := range ids {
		keys[id] = mac(secret, "order:"+id)
	}
	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(i, j int) bool { return bytes.Compare(keys[out[i]], keys[out[j]]) < 0 })
	return out
}

// LoadOrCreateSecret reads a hex secret from path, creating one on first use.
func LoadOrCreateSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		s, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(s) == 0 {
			return nil, fmt.Errorf("blinding key %s is corrupt", path)
		}
		return s, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	s := make([]byte, secretBytes)
	if _, err := rand.Read(s); err != nil {
		return nil, fmt.Errorf("generate blinding key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return LoadOrCreateSecret(path)
	}
	if err != nil {
		return nil, err
	}
	if _, err := f.WriteString(hex.EncodeToString(s) + "\n"); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return s, nil
}
