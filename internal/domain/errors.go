package domain

import "errors"

var (
	ErrCredentialsNotFound      = errors.New("gateway credentials not found")
	ErrCredentialsNotConfigured = errors.New("payment not set up for landlord")
	ErrValidation               = errors.New("validation failed")

	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrTokenRejected      = errors.New("payment gateway rejected access token")
	ErrInitiationFailed   = errors.New("payment initiation failed")

	ErrMalformedCallback       = errors.New("malformed gateway callback")
	ErrTransactionNotFound     = errors.New("payment transaction not found")
	ErrDuplicateGatewayRequest = errors.New("gateway request id already recorded")
	ErrTransitionNotAllowed    = errors.New("transaction status transition not allowed")
)
