package flash

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	cderrors "github.com/embeddedkit/configdrive/errors"
)

// errAccumulator collects per-half-word program failures across a batch so
// the caller gets one combined diagnostic instead of being stopped by the
// first failure, per spec.md section 7 ("Flash program failure: log and
// continue programming the remaining halfwords").
type errAccumulator struct {
	err *multierror.Error
}

func (a *errAccumulator) add(addr int, cause error) {
	a.err = multierror.Append(
		a.err,
		cderrors.ErrProgramFailed.WithMessage(
			fmt.Sprintf("offset 0x%04x: %s", addr, cause.Error()),
		),
	)
}

func (a *errAccumulator) result() error {
	if a.err == nil {
		return nil
	}
	return a.err.ErrorOrNil()
}
