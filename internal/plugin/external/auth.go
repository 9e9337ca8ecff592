package external

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/alexedwards/argon2id"
)

// argon2idParams are OWASP minimum parameters for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashAPIKey returns an Argon2id hash of a raw host API key in PHC format,
// suitable for the --api-key-hash flag of the plugin host.
func HashAPIKey(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// verifyAPIKey checks a raw key against a stored hash. PHC Argon2id hashes
// and bare SHA-256 hex are both accepted.
func verifyAPIKey(rawKey, storedHash string) (bool, error) {
	if strings.HasPrefix(storedHash, "$argon2id$") {
		return safeArgon2idCompare(rawKey, storedHash)
	}
	sum := sha256.Sum256([]byte(rawKey))
	computed := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1, nil
}

// safeArgon2idCompare contains the panics the argon2 library raises on
// malformed hash parameters.
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}

// requireAPIKey rejects requests whose X-Toolgate-Api-Key header does not
// match the stored hash.
func requireAPIKey(storedHash string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			http.Error(w, "missing api key", http.StatusUnauthorized)
			return
		}
		match, err := verifyAPIKey(key, storedHash)
		if err != nil || !match {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
