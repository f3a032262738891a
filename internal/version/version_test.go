package version

import (
	"strings"
	"testing"
)

func TestGetInfo(t *testing.T) {
	t.Parallel()

	info := GetInfo()
	for _, part := range []string{Version, Commit, BuildTime} {
		if !strings.Contains(info, part) {
			t.Fatalf("info %q missing %q", info, part)
		}
	}
}
