// Package services contains the server-side business logic of the auth core:
// credential verification and lockout, token issuing and rotation, the bearer
// revocation ledger, MFA enrollment and verification, and the session use
// cases composed from them.
package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/keeperauth/internal/common"
	"github.com/dmitrijs2005/keeperauth/internal/logging"
)

// publicErrors are the failures callers are allowed to see. Anything else is
// logged and replaced with common.ErrorInternal.
var publicErrors = []error{
	common.ErrInvalidCredentials,
	common.ErrAccountLocked,
	common.ErrConflict,
	common.ErrInvalidToken,
	common.ErrInvalidMfaCode,
	common.ErrMfaAlreadyEnabled,
	common.ErrMfaNotEnabled,
	common.ErrMfaEnrollmentNotStarted,
	common.ErrorUnauthorized,
	common.ErrValidation,
}

// publicError maps err onto the public taxonomy.
func publicError(ctx context.Context, logger logging.Logger, op, accountID string, err error) error {
	if err == nil {
		return nil
	}
	for _, target := range publicErrors {
		if errors.Is(err, target) {
			return target
		}
	}
	logger.Error(ctx, "internal error", "op", op, "account_id", accountID, "error", err)
	return common.ErrorInternal
}
