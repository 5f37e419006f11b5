package util

import (
	"fmt"

	"github.com/google/uuid"
)

// UUID returns a random identifier, used to tag protocol sessions in
// logs.
func UUID() string {
	return uuid.New().String()
}

// HexBytes renders a short byte slice for log and CLI output.
func HexBytes(p []byte) string {
	return fmt.Sprintf("% x", p)
}
