package multicast

import "crypto/rand"

// randomSeqno returns a fresh 8-byte unique bytestring for an outbound
// message's seqno, generated from a cryptographically-strong random
// source (spec.md section 4.5). Uniqueness of the resulting message id is
// the publisher's responsibility per spec.md section 3; 8 random bytes
// makes collision practically impossible for any one node's lifetime.
func randomSeqno() ([]byte, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
