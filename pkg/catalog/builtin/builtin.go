// Package builtin embeds a small ready-to-serve corpus. It is the default
// when no corpus directory is configured, and doubles as the smoke-test
// fixture: every builtin definition assembles and passes its own contract.
package builtin

import (
	"embed"
	"io/fs"
)

//go:embed defs
var defs embed.FS

// FS returns the embedded corpus rooted at the definitions directory.
func FS() fs.FS {
	sub, err := fs.Sub(defs, "defs")
	if err != nil {
		panic(err)
	}
	return sub
}
