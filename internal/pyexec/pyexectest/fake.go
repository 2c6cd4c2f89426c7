// Package pyexectest provides stand-in interpreters for tests of the Python
// backed stages.
package pyexectest

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// PassImportCheck is a script line that exits successfully when the fake is
// started with a program but no program arguments, as dependency checks do
const PassImportCheck = `[ "$#" -le 2 ] && exit 0`

// FakePython writes an executable shell script that replaces the Python
// interpreter and returns its path. The script receives "-c", the program
// text and the program arguments, so body usually starts with "shift 2".
func FakePython(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake interpreters are shell scripts")
	}

	path := filepath.Join(t.TempDir(), "python")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write fake interpreter: %v", err)
	}
	return path
}

// MissingModule returns a fake interpreter that fails like a helper program
// whose import failed
func MissingModule(t *testing.T, module string) string {
	t.Helper()
	return FakePython(t, `echo "ModuleNotFoundError: No module named '`+module+`'" >&2
exit 3`)
}
