package federation

import (
	"github.com/samsarahq/go/oops"
)

// Composition error constructors give the Composer's conflict codes (used
// in CompositionError.Errors and surfaced verbatim to whoever runs
// composition) a typed call site instead of a bare oops.Errorf string
// prefix repeated at every conflict check, while still using oops for the
// actual wrapping so these errors carry call-site stack context the same
// way every other internal error in this package does.

func errUnknownType(format string, a ...interface{}) error {
	return oops.Errorf("UnknownType: "+format, a...)
}

func errMissingOwner(format string, a ...interface{}) error {
	return oops.Errorf("MissingOwner: "+format, a...)
}

func errConflictingFieldTypes(format string, a ...interface{}) error {
	return oops.Errorf("ConflictingFieldTypes: "+format, a...)
}

func errDuplicateField(format string, a ...interface{}) error {
	return oops.Errorf("DuplicateField: "+format, a...)
}

func errScalarConflict(format string, a ...interface{}) error {
	return oops.Errorf("ScalarConflict: "+format, a...)
}
