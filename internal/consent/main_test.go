package consent

import (
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
)

// The code under test logs through the package-global logger, which is nil
// until initialized; give tests a no-op logger so log calls do not panic.
func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}
