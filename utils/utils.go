package utils

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// GenerateUniqueID returns a random 32-bit identifier for a newly indexed track.
func GenerateUniqueID() uint32 {
	return uuid.New().ID()
}

// GenerateTrackKey builds the natural key used to reject duplicate registrations.
func GenerateTrackKey(title, artist string) string {
	return strings.ToLower(strings.TrimSpace(title)) + "---" + strings.ToLower(strings.TrimSpace(artist))
}

func GetEnv(key string, fallback ...string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	if len(fallback) > 0 {
		return fallback[0]
	}
	return ""
}

func CreateFolder(folderPath string) error {
	if err := os.MkdirAll(folderPath, 0o755); err != nil {
		return fmt.Errorf("error creating folder %s: %w", folderPath, err)
	}
	return nil
}

func DeleteFile(filePath string) error {
	if _, err := os.Stat(filePath); err == nil {
		return os.Remove(filePath)
	}
	return nil
}
