package signing

import "github.com/pkg/errors"

var (
	ErrInsufficientContributions = errors.New("insufficient contributions")
	ErrAggregationRejected       = errors.New("aggregation rejected")
	ErrSubmissionFailed          = errors.New("submission failed")
)
