package vectorstore

import "lalo/core/pkg/core"

func errLengthMismatch(docs, ids int) error {
	return core.E(core.KindInvalidInput, "docs and ids length mismatch: %d vs %d", docs, ids)
}
