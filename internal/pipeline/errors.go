package pipeline

import (
	"errors"

	"github.com/joseph-ayodele/docextract/internal/common"
)

func asPipelineError(err error) (*common.PipelineError, bool) {
	var pe *common.PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
