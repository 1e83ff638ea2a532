package session

import (
	"crypto/rand"
	"encoding/base64"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// newToken builds an opaque session token: a lexicographically sortable
// record id plus a random secret part. The id orders records by creation
// time; the secret is what makes the token unguessable.
func newToken() (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
	entropyMu.Unlock()
	return id + "." + base64.RawURLEncoding.EncodeToString(secret), nil
}
