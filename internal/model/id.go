package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// IDType prefixes generated identifiers.
type IDType string

const (
	IDTypeTask   IDType = "task"
	IDTypeBypass IDType = "bypass"
)

// GenerateID returns an id of the form <type>_<unix>_<hex8>.
func GenerateID(idType IDType) (string, error) {
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return fmt.Sprintf("%s_%010d_%s", idType, time.Now().Unix(), hex.EncodeToString(randomBytes)), nil
}
