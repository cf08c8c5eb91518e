package chain

import (
	"github.com/pkg/errors"

	"github.com/go-cnote/cnoted/core"
	"github.com/go-cnote/cnoted/crypto"
	"github.com/go-cnote/cnoted/util"
)

// ErrRingSignatureInvalid is returned by CheckTransactionInputs when a
// Key input's ring signature does not verify.
var ErrRingSignatureInvalid = errors.New("chain: ring signature invalid")

// ErrDuplicateKeyImage is returned when a transaction spends the same
// key image twice within itself.
var ErrDuplicateKeyImage = errors.New("chain: duplicate key image within transaction")

// CheckTransactionInputs is the "checkTransactionInputs against current
// UTXO state" precondition required of every
// transaction before it is pushed, and the readiness check the
// transaction pool's getDifference/fillBlockTemplate use to decide
// whether a pooled transaction is still minable. For every Key input it
// resolves the ring's absolute offsets to public keys via
// ExtractKeyOutputs, rejects rings whose members are not yet spend-time
// unlocked, and verifies the ring signature against the transaction's
// prefix hash. atHeight, when non-nil, evaluates unlock time and spent
// state as of that height instead of the current tip (used by the pool,
// which must judge readiness against the chain as it stood when a block
// template is being built).
func (bc *Blockchain) CheckTransactionInputs(tx *core.Transaction, atHeight *util.Height) (util.Amount, error) {
	if tx.IsCoinbase() {
		return 0, nil
	}

	fee, err := tx.Fee()
	if err != nil {
		return 0, errors.Wrap(err, "chain: checking transaction inputs")
	}

	prefixHash := core.PrefixHash(&tx.Prefix)
	seenImages := make(map[util.KeyImage]bool, len(tx.Prefix.Inputs))

	for i, in := range tx.Prefix.Inputs {
		keyIn, ok := in.(core.InputKey)
		if !ok {
			continue
		}

		if seenImages[keyIn.KeyImage] {
			return 0, errors.Wrapf(ErrDuplicateKeyImage, "%x", keyIn.KeyImage)
		}
		seenImages[keyIn.KeyImage] = true

		spent, err := bc.CheckIfSpent(keyIn.KeyImage, atHeight)
		if err != nil {
			return 0, err
		}
		if spent {
			return 0, errors.Wrapf(ErrKeyImageAlreadySpent, "%x", keyIn.KeyImage)
		}

		absolute, err := keyIn.AbsoluteOffsets()
		if err != nil {
			return 0, err
		}

		pubs := make([]util.PublicKey, len(absolute))
		j := 0
		visitErr := bc.ExtractKeyOutputs(keyIn.Amount, absolute, func(info *core.KeyOutputInfo, globalIndex util.GlobalOutputIndex) (ExtractVisitResult, error) {
			if !bc.IsTransactionSpendTimeUnlocked(info.UnlockTime, atHeight) {
				return ExtractStop, errors.Errorf("chain: ring member at global index %d is still locked", globalIndex)
			}
			pubs[j] = info.PublicKey
			j++
			return ExtractContinue, nil
		})
		if visitErr != nil {
			return 0, visitErr
		}

		sigs := tx.Signatures[i]
		if len(sigs) != len(pubs) {
			return 0, errors.Errorf("chain: ring signature count %d does not match ring size %d", len(sigs), len(pubs))
		}
		ok, err := crypto.CheckRingSignature(prefixHash, keyIn.KeyImage, pubs, sigs)
		if err != nil {
			return 0, errors.Wrap(err, "chain: checking ring signature")
		}
		if !ok {
			return 0, errors.Wrapf(ErrRingSignatureInvalid, "input %d", i)
		}
	}

	return fee, nil
}
