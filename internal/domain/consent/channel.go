package consent

import (
	"context"
	"errors"
)

// ErrNoRecipient is returned by channels that need an address the patient
// record does not carry. The request stays open for in-console signing.
var ErrNoRecipient = errors.New("signature request has no recipient")

// SignatureRequest asks the patient to sign consent for one item. RequestID
// must be echoed back with the signed event.
type SignatureRequest struct {
	DraftID     string `json:"draft_id"`
	ItemID      string `json:"item_id"`
	ItemName    string `json:"item_name"`
	RequestID   string `json:"request_id"`
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name"`
	Recipient   string `json:"recipient,omitempty"`
}

// SignatureChannel delivers signature requests out of band. Completion
// arrives later as a separate signed event.
type SignatureChannel interface {
	RequestSignature(ctx context.Context, req SignatureRequest) error
}

// ChannelFunc adapts a function to SignatureChannel.
type ChannelFunc func(ctx context.Context, req SignatureRequest) error

func (f ChannelFunc) RequestSignature(ctx context.Context, req SignatureRequest) error {
	return f(ctx, req)
}

// FanOut delivers a request over every channel and fails only if all of them fail.
type FanOut []SignatureChannel

func (f FanOut) RequestSignature(ctx context.Context, req SignatureRequest) error {
	if len(f) == 0 {
		return nil
	}
	var errs []error
	for _, ch := range f {
		if err := ch.RequestSignature(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(f) {
		return errors.Join(errs...)
	}
	return nil
}
