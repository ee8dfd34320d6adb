package watcher

import (
	"crypto/sha256"
	"fmt"
)

func hashBytes(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
