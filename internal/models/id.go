package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a prefixed ULID, e.g. "dlv_01J...". Prefixes in use:
// acc (accounts), wh (webhooks), dlv (delivery records).
func NewID(prefix string) string {
	t := time.Now()
	entropy := ulid.Monotonic(mrand.New(mrand.NewSource(t.UnixNano())), 0)
	return fmt.Sprintf("%s_%s", prefix, ulid.MustNew(ulid.Timestamp(t), entropy))
}

func NewAPIKey() string {
	return "wak_" + randomString(32)
}

func NewSecret() string {
	return "whsec_" + randomString(40)
}

func randomString(n int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
