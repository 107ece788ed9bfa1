package session

import (
	"os"
	"testing"

	"github.com/crypto-com/devnet-harness/framework/testutil/fakesupervisor"
)

func TestMain(m *testing.M) {
	fakesupervisor.RunIfRequested()
	os.Exit(m.Run())
}
