package response

import (
	"fmt"
	"io"
	"time"

	"github.com/ZentaChain/marp-node/pkg/crypto"
)

// DecryptedRecord is one record opened for display. Err is set when the
// payload could not be decrypted; Plaintext is nil in that case.
type DecryptedRecord struct {
	Protocol  uint16
	TTL       uint16
	Timestamp int64
	Plaintext []byte
	Err       error
}

// DecryptForDisplay opens every record payload with key. A record that fails
// to decrypt is reported in its own entry and does not stop the others.
// Decryption success says nothing about authenticity; only a verified
// signature does.
func (r *Response) DecryptForDisplay(key crypto.RecordKey) []DecryptedRecord {
	if r == nil {
		return nil
	}
	out := make([]DecryptedRecord, 0, len(r.records))
	for _, rec := range r.records {
		d := DecryptedRecord{
			Protocol:  rec.Protocol,
			TTL:       rec.TTL,
			Timestamp: rec.Timestamp,
		}

		n, err := crypto.DecryptPayload(key, rec.Payload, nil)
		if err != nil {
			d.Err = err
			out = append(out, d)
			continue
		}
		plain := make([]byte, n)
		if n, err = crypto.DecryptPayload(key, rec.Payload, plain); err != nil {
			d.Err = err
		} else {
			d.Plaintext = plain[:n]
		}
		out = append(out, d)
	}
	return out
}

// PrintDecrypted writes a human readable dump of the decrypted records.
func PrintDecrypted(w io.Writer, r *Response, key crypto.RecordKey) error {
	records := r.DecryptForDisplay(key)
	if _, err := fmt.Fprintf(w, "%d Records Processed\n\n", len(records)); err != nil {
		return err
	}
	for i, d := range records {
		answer := string(d.Plaintext)
		if d.Err != nil {
			answer = "<" + d.Err.Error() + ">"
		}
		_, err := fmt.Fprintf(w, "Record %d:\nProtocol: %d\nTTL: %d seconds\nTimestamp: %s\nAnswer: %s\n\n",
			i, d.Protocol, d.TTL, time.Unix(d.Timestamp, 0).UTC().Format(time.RFC3339), answer)
		if err != nil {
			return err
		}
	}
	return nil
}
