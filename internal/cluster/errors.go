package cluster

import (
	"context"
	"errors"
	"net"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	utilnet "k8s.io/apimachinery/pkg/util/net"

	"github.com/imamik/branchenv/internal/environment"
)

// Classify maps a cluster API error onto the transient/permanent taxonomy.
// Rate limits and exhausted quota are transient so callers back off.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if environment.IsTransient(err) || environment.IsPermanent(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if isTransient(err) {
		return environment.Transient(op, err)
	}
	return environment.Permanent(op, err)
}

func isTransient(err error) bool {
	switch {
	case apierrors.IsForbidden(err):
		return strings.Contains(err.Error(), "exceeded quota")
	case apierrors.IsTooManyRequests(err),
		apierrors.IsServerTimeout(err),
		apierrors.IsTimeout(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsInternalError(err),
		apierrors.IsUnauthorized(err),
		apierrors.IsConflict(err):
		return true
	case meta.IsNoMatchError(err):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case utilnet.IsConnectionRefused(err), utilnet.IsConnectionReset(err), utilnet.IsProbableEOF(err):
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
