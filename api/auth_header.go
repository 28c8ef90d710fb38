package api

import (
	"errors"
	"unsafe"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
	errTokenRevoked         = errors.New("token revoked")
)

var bearerPrefix = [...]byte{'B', 'e', 'a', 'r', 'e', 'r', ' '}

// bearerTokenFromString extracts the raw JWT from an Authorization header
// value without allocating. The returned bytes alias the input string and
// must be treated as read-only.
func bearerTokenFromString(raw string) ([]byte, error) {
	start := 0
	end := len(raw)
	for start < end && raw[start] == ' ' {
		start++
	}
	for end > start && raw[end-1] == ' ' {
		end--
	}
	if start >= end {
		return nil, errMissingAuthorization
	}
	tokenBytes := readOnlyBytes(raw[start:end])
	if len(tokenBytes) <= len(bearerPrefix) || !hasBearerPrefix(tokenBytes) {
		return nil, errBadAuthorization
	}
	tokenBytes = tokenBytes[len(bearerPrefix):]
	if countByte(tokenBytes, '.') != 2 {
		return nil, errBadAuthorization
	}
	return tokenBytes, nil
}

func hasBearerPrefix(value []byte) bool {
	if len(value) < len(bearerPrefix) {
		return false
	}
	for i := range bearerPrefix {
		if value[i] != bearerPrefix[i] {
			return false
		}
	}
	return true
}

func countByte(buf []byte, target byte) int {
	count := 0
	for _, b := range buf {
		if b == target {
			count++
		}
	}
	return count
}

func readOnlyBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func readOnlyString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
