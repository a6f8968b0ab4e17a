package api

import (
	"crypto/rand"
	"encoding/base64"
)

func generateRandomString(length int) string {
	// base64 encoding increases size by ~4/3, so fewer input bytes would do;
	// reading length bytes keeps it simple
	b := make([]byte, length)
	_, _ = rand.Read(b)
	encoded := base64.URLEncoding.EncodeToString(b)
	if len(encoded) > length {
		return encoded[:length]
	}
	return encoded
}
