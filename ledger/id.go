package ledger

import (
	"crypto/rand"
	"math/big"
)

// Short random codes identify users, wallets and transactions. The
// alphabet is small enough that collisions are a matter of when, not if;
// every caller treats a store-level ErrDuplicateID as "regenerate and
// retry", never as proof of uniqueness.

const (
	idAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	userIDLen   = 8
	walletIDLen = 8
	txnIDLen    = 10

	// idRetries bounds the regenerate-on-collision loop.
	idRetries = 5
)

func randomCode(length int) string {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the OS entropy source is broken;
			// there is no meaningful fallback.
			panic(err)
		}
		buf[i] = idAlphabet[n.Int64()]
	}
	return string(buf)
}

func newUserID() UserID               { return UserID(randomCode(userIDLen)) }
func newWalletID() WalletID           { return WalletID(randomCode(walletIDLen)) }
func newTransactionID() TransactionID { return TransactionID(randomCode(txnIDLen)) }
