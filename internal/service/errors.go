package service

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by a service wraps exactly one of
// these (email-in-use wraps both auth and conflict).
var (
	ErrValidation = errors.New("validation failed")
	ErrAuth       = errors.New("authentication failed")
	ErrNotFound   = errors.New("not found")
	ErrWrite      = errors.New("write failed")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
)

var (
	ErrNonUniversityEmail = fmt.Errorf("%w: please use a valid university email address (.edu)", ErrValidation)
	ErrInvalidPayment     = fmt.Errorf("%w: payment must be a non-negative number", ErrValidation)
	ErrEmptyContent       = fmt.Errorf("%w: content is empty after sanitization", ErrValidation)
	ErrUnknownProvider    = fmt.Errorf("%w: unsupported sign-in provider", ErrValidation)
	ErrInvalidStatus      = fmt.Errorf("%w: status must be accepted or rejected", ErrValidation)
	ErrInvalidUniversity  = fmt.Errorf("%w: community must belong to your university or be global", ErrValidation)
	ErrUploadTooLarge     = fmt.Errorf("%w: file exceeds maximum allowed size", ErrValidation)
	ErrUploadType         = fmt.Errorf("%w: only image uploads are allowed", ErrValidation)
	ErrProfileIncomplete  = fmt.Errorf("%w: complete your profile first", ErrValidation)

	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", ErrAuth)
	ErrEmailInUse         = fmt.Errorf("%w: %w: email already in use", ErrAuth, ErrConflict)
	ErrInvalidOAuthState  = fmt.Errorf("%w: sign-in request expired, please try again", ErrAuth)
	ErrSessionInvalid     = fmt.Errorf("%w: session is invalid or expired", ErrAuth)

	ErrUserNotFound         = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrGigNotFound          = fmt.Errorf("%w: gig not found", ErrNotFound)
	ErrApplicationNotFound  = fmt.Errorf("%w: application not found", ErrNotFound)
	ErrCommunityNotFound    = fmt.Errorf("%w: community not found", ErrNotFound)
	ErrMessageNotFound      = fmt.Errorf("%w: message not found", ErrNotFound)
	ErrNotificationNotFound = fmt.Errorf("%w: notification not found", ErrNotFound)

	ErrNotPoster      = fmt.Errorf("%w: only the poster can do this", ErrForbidden)
	ErrOwnGig         = fmt.Errorf("%w: you cannot apply to your own gig", ErrForbidden)
	ErrProfilePrivate = fmt.Errorf("%w: this profile is private", ErrForbidden)
	ErrCommunityScope = fmt.Errorf("%w: community belongs to another university", ErrForbidden)

	ErrGigClosed         = fmt.Errorf("%w: gig is no longer open", ErrConflict)
	ErrAlreadyApplied    = fmt.Errorf("%w: you have already applied to this gig", ErrConflict)
	ErrInvalidTransition = fmt.Errorf("%w: application has already been decided", ErrConflict)
)

func writeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrWrite, op, err)
}

func validationError(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}
