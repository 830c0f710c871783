// Package qr encodes payment requests for the visual-code path. It is
// the same payload the proximity protocol carries, on a different
// transport; the scanning/rendering mechanics live outside this module.
package qr

import (
	"github.com/fabrknt/fabcash/pkg/payment"
	"github.com/fabrknt/fabcash/pkg/proximity"
)

// Encode serializes a payment request to the compact string embedded
// in a visual code.
func Encode(req payment.Request) (string, error) {
	return proximity.Encode(proximity.RequestPayload{Request: req})
}

// Decode parses a scanned visual-code string back into a validated
// payment request.
func Decode(encoded string) (payment.Request, error) {
	p, err := proximity.Decode(encoded)
	if err != nil {
		return payment.Request{}, err
	}
	rp, ok := p.(proximity.RequestPayload)
	if !ok {
		return payment.Request{}, payment.ErrInvalidRequest
	}
	return rp.Request, nil
}
