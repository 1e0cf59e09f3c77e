package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// istOffset is the fixed IST offset the verification provider expects in
// request timestamps, regardless of server locale.
const istOffset = 5*time.Hour + 30*time.Minute

// timestampLayout is the provider's timestamp format (no zone suffix).
const timestampLayout = "2006-01-02T15:04:05"

// requestMeta is the authentication envelope every provider call carries.
type requestMeta struct {
	Ver             string `json:"ver"`
	TS              string `json:"ts"`
	Txn             string `json:"txn"`
	ClientCode      string `json:"clientCode"`
	ClientAccessKey string `json:"clientAccessKey"`
	SessionID       string `json:"sessionId,omitempty"`
}

// newRequestMeta builds a signed meta block for a provider request.
// The signature is the hex SHA-256 of accessKey + timestamp + transaction ID.
func newRequestMeta(clientCode, accessKey string, now time.Time) requestMeta {
	ts := now.UTC().Add(istOffset).Format(timestampLayout)
	txn := fmt.Sprintf("TXN%d", now.UnixMilli())
	sum := sha256.Sum256([]byte(accessKey + ts + txn))
	return requestMeta{
		Ver:             "1.0",
		TS:              ts,
		Txn:             txn,
		ClientCode:      clientCode,
		ClientAccessKey: hex.EncodeToString(sum[:]),
	}
}
