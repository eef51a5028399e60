package tx

import (
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
)

// BlobCommitmentVersionKZG is the version byte of KZG versioned hashes.
const BlobCommitmentVersionKZG byte = 0x01

// Sequence returns n copies of template with consecutive nonces starting at
// template.Nonce. mutate, if non-nil, is called on each copy before it is
// returned.
func Sequence(template *Transaction, n int, mutate func(i int, tx *Transaction)) []*Transaction {
	out := make([]*Transaction, n)
	for i := range out {
		tx := template.Copy()
		tx.Nonce = template.Nonce + uint64(i)
		if mutate != nil {
			mutate(i, tx)
		}
		out[i] = tx
	}
	return out
}

// Chunk splits txs into consecutive groups of the given sizes, e.g. to spread
// a sequence over several blocks. Leftover transactions are dropped.
func Chunk(txs []*Transaction, sizes ...int) [][]*Transaction {
	out := make([][]*Transaction, 0, len(sizes))
	for _, size := range sizes {
		if size > len(txs) {
			size = len(txs)
		}
		out = append(out, txs[:size])
		txs = txs[size:]
	}
	return out
}

// AddKZGVersion turns arbitrary hashes into versioned hashes: the version
// byte followed by the tail of the hash's sha256 digest.
func AddKZGVersion(hashes []common.Hash, version byte) []common.Hash {
	out := make([]common.Hash, len(hashes))
	for i, h := range hashes {
		out[i] = sha256.Sum256(h[:])
		out[i][0] = version
	}
	return out
}

// VersionedHashes computes the versioned hashes of KZG commitments.
func VersionedHashes(commitments []kzg4844.Commitment) []common.Hash {
	out := make([]common.Hash, len(commitments))
	hasher := sha256.New()
	for i := range commitments {
		out[i] = kzg4844.CalcBlobHashV1(hasher, &commitments[i])
	}
	return out
}
