package filerepo

import (
	"errors"

	"github.com/vaultfs/filerepo/internal/pipeline"
)

func isPipelineExtensionErr(err error) bool {
	return errors.Is(err, pipeline.ErrExtensionNotAllowed)
}

func isPipelineSourceUnchangedErr(err error) bool {
	return errors.Is(err, pipeline.ErrSourceUnchanged)
}
