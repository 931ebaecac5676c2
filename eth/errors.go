package eth

import "errors"

// Protocol violation kinds. Every one of these is reported
// through dropConnection, never returned to a caller — the handler
// never raises errors outward; all error outcomes are disconnects plus
// queue reclamation.
var (
	errTooManyHeaders       = errors.New("eth: peer returned more headers than requested")
	errEmptyInitialProbe    = errors.New("eth: peer returned no headers for the initial best-block probe")
	errWithheldKnownData    = errors.New("eth: peer withheld headers it is known to have")
	errOriginHashMismatch   = errors.New("eth: first header hash does not match requested origin")
	errOriginNumberMismatch = errors.New("eth: first header number does not match requested origin")
	errBrokenAncestry       = errors.New("eth: first header does not descend from the last header we hold")
	errBadChaining          = errors.New("eth: header sequence is not contiguously chained")
	errTooFewBodies         = errors.New("eth: peer returned fewer bodies than the long-sync prefix requires")
	errTooManyBodies        = errors.New("eth: peer returned more bodies than headers outstanding")
	errOwedBody             = errors.New("eth: peer owes a body for a header it supplied itself")
	errMergeFailed          = errors.New("eth: could not merge a header with its body")
	errForkOriginMismatch   = errors.New("eth: fork-recovery response does not start at the requested gap block")
	errNoCommonAncestor     = errors.New("eth: no common ancestor found in fork-recovery batch")
	errQueueRejected        = errors.New("eth: shared queue rejected submitted headers or blocks")
	errNoOutstandingRequest = errors.New("eth: response received with no outstanding request to match against")
)
