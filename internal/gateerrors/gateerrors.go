package gateerrors

import "errors"

var (
	// rate limiting
	ErrQuotaExceeded     = errors.New("request quota exceeded for this window")
	ErrIdentifierBlocked = errors.New("identifier is temporarily blocked")
	ErrUnknownProfile    = errors.New("unknown rate limit profile")

	// tenant resolution
	ErrTenantNotFound = errors.New("no active tenant for this host")
	ErrTenantInactive = errors.New("tenant exists but is not active")

	// csrf
	ErrCsrfMismatch = errors.New("csrf token missing or does not match cookie")

	// distributed store
	ErrStoreUnavailable = errors.New("distributed counter store unavailable")

	// whitelist administration
	ErrWhitelistEntryExists   = errors.New("whitelist entry already exists")
	ErrWhitelistEntryNotFound = errors.New("whitelist entry not found")
	ErrInvalidAddress         = errors.New("address is not a valid IP or CIDR")
)
