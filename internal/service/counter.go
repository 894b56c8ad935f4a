package service

import "context"

// zeroResourceCounter reports no live resources. The embedding application
// supplies a counter bound to its own resource tables; the standalone server
// has nothing to count, so capacity entitlements read as unused.
type zeroResourceCounter struct{}

// NewZeroResourceCounter returns a ResourceCounter that always counts zero
func NewZeroResourceCounter() ResourceCounter {
	return zeroResourceCounter{}
}

func (zeroResourceCounter) Count(ctx context.Context, subjectID, resourceKind string) (int64, error) {
	return 0, nil
}
