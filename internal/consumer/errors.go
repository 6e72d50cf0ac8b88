package consumer

import "errors"

// Consumer errors.
var (
	// ErrMalformedEvent marks events that can never be processed. They are
	// rejected without requeueing.
	ErrMalformedEvent = errors.New("malformed event")
	ErrNoURL          = errors.New("amqp url is required")
)
