package validate

import (
	"os"

	"github.com/sailing-dev/sailing/internal/core"
)

func renameFile(from, to string) error {
	if _, err := os.Stat(to); err == nil {
		return core.Errorf(core.KindAlreadyExists, "validate.fix", "cannot rename %s: %s exists", from, to)
	}
	if err := os.Rename(from, to); err != nil {
		return core.Wrap(core.KindIO, "validate.fix", err)
	}
	return nil
}
