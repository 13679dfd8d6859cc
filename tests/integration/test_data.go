//go:build integration

package integration

import (
	"fmt"

	"github.com/google/uuid"
)

// TestPassword satisfies the password policy
const TestPassword = "Correct-Horse-Battery-42"

// TestEmail generates a unique address for one test
func TestEmail(suffix string) string {
	return fmt.Sprintf("test-%s-%s@example.com", uuid.NewString()[:8], suffix)
}
