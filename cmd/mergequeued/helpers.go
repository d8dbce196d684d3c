package main

import (
	"strconv"

	"github.com/kieranlane/mergequeue/internal/types/mqerrors"
)

// parseID parses a CLI positional argument as an entry id, returning a
// ValidationError (so exitCodeFromErr maps it to ExitValidation) on a
// malformed argument rather than a generic strconv error.
func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, mqerrors.Newf(mqerrors.KindValidation, "parseID", "invalid entry id %q: %v", raw, err)
	}
	return id, nil
}
