package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

// testEnv keeps package tests away from real infrastructure. Values already
// present in the environment win, except the test-mode flag.
var testEnv = []struct {
	key, value string
	force      bool
}{
	{key: "CLOSEFLOW_TEST_MODE", value: "1", force: true},
	{key: "BACKEND_URL", value: "http://127.0.0.1:0"},
	{key: "PREFS_DRIVER", value: "memory"},
	{key: "ASYNC_GENERATION", value: "false"},
}

var once sync.Once

func applyTestEnv() {
	once.Do(func() {
		for _, e := range testEnv {
			if _, set := os.LookupEnv(e.key); set && !e.force {
				continue
			}
			_ = os.Setenv(e.key, e.value)
		}
	})
}

func init() {
	applyTestEnv()
}

func TestMain(m *stdtesting.M) {
	applyTestEnv()
	os.Exit(m.Run())
}
