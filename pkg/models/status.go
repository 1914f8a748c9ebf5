package models

// FrontierState is the lifecycle state of a frontier entry
type FrontierState string

const (
	StateUnset      FrontierState = ""            // Zero value = never seen
	StateDiscovered FrontierState = "discovered"  // Queued, not yet claimed by a worker
	StateInProgress FrontierState = "in_progress" // Claimed by exactly one worker
	StateCompleted  FrontierState = "completed"   // Terminal; never re-enqueued
)

// String implements fmt.Stringer for logging
func (s FrontierState) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the state is one a persisted entry may hold
func (s FrontierState) IsValid() bool {
	switch s {
	case StateDiscovered, StateInProgress, StateCompleted:
		return true
	}
	return false
}

// StatusBand groups fetch status codes by how the scraper treats them
type StatusBand string

const (
	BandSuccess      StatusBand = "success"       // 200-299
	BandRedirect     StatusBand = "redirect"      // 300-399
	BandClientError  StatusBand = "client_error"  // 400-499
	BandServerError  StatusBand = "server_error"  // 500-599
	BandCrawlerError StatusBand = "crawler_error" // 600-606, crawler-side transport/cache violation
	BandUnknown      StatusBand = "unknown"
)

// Reserved status codes produced by the fetcher for failures that never reached an HTTP status.
const (
	StatusRequestError   = 600 // Request could not be constructed
	StatusTransportError = 601 // Network error, timeout, or retries exhausted
	StatusBodyReadError  = 602 // Response body could not be read
	StatusReservedMax    = 606
)

// BandFor classifies an HTTP or reserved status code
func BandFor(status int) StatusBand {
	switch {
	case status >= 200 && status < 300:
		return BandSuccess
	case status >= 300 && status < 400:
		return BandRedirect
	case status >= 400 && status < 500:
		return BandClientError
	case status >= 500 && status < 600:
		return BandServerError
	case status >= 600 && status <= StatusReservedMax:
		return BandCrawlerError
	}
	return BandUnknown
}
