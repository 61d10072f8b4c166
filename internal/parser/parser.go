// Package parser classifies Yellowstone transaction updates into Bags fee
// claim events.
//
// The parser operates by:
// 1. Building the full account table (static keys plus lookup-table loads)
// 2. Resolving each top-level instruction's program through that table
// 3. Matching the first 8 bytes of instruction data against the claim
//    discriminators of the V1 and V2 fee share programs
//
// Classification is pure and synchronous. Partial or malformed updates are
// expected on the feed and yield no events rather than errors.
package parser

import (
	"bags-claim-sniper/internal/logger"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"
	"github.com/sirupsen/logrus"
)

// ClaimParser extracts claim events from Yellowstone updates.
type ClaimParser struct {
	programs Programs
}

// NewClaimParser creates a parser for the given fee share programs.
func NewClaimParser(programs Programs) *ClaimParser {
	return &ClaimParser{programs: programs}
}

// ParseUpdate returns the claim events contained in a feed update. Non
// transaction updates return nil.
func (p *ClaimParser) ParseUpdate(update *pb.SubscribeUpdate) []ClaimEvent {
	txUpdate := update.GetTransaction()
	if txUpdate == nil {
		return nil
	}
	return p.ParseTransaction(txUpdate)
}

// ParseTransaction returns one event per qualifying instruction.
func (p *ClaimParser) ParseTransaction(txUpdate *pb.SubscribeUpdateTransaction) []ClaimEvent {
	txInfo := txUpdate.GetTransaction()
	if txInfo == nil || len(txInfo.GetSignature()) == 0 {
		return nil
	}

	message := txInfo.GetTransaction().GetMessage()
	if message == nil {
		return nil
	}

	accountKeys := accountTable(message, txInfo.GetMeta())
	signature := base58.Encode(txInfo.GetSignature())
	slot := txUpdate.GetSlot()

	var events []ClaimEvent
	for _, instr := range message.GetInstructions() {
		programID, ok := keyAt(accountKeys, instr.GetProgramIdIndex())
		if !ok {
			continue
		}

		version, ok := p.programs.Version(programID)
		if !ok {
			continue
		}

		logrus.WithFields(logrus.Fields{
			"slot":     slot,
			"program":  version.String(),
			"data_len": len(instr.GetData()),
		}).Debug("🔍 Bags interaction")

		kind, ok := ClassifyData(instr.GetData())
		if !ok {
			continue
		}

		involved := make(AccountSet, len(instr.GetAccounts()))
		for _, idx := range instr.GetAccounts() {
			if key, ok := keyAt(accountKeys, uint32(idx)); ok {
				involved.Add(key)
			}
		}

		logrus.WithFields(logrus.Fields{
			"slot":      slot,
			"type":      kind.String(),
			"program":   version.String(),
			"signature": logger.ShortKey(signature, 10),
			"accounts":  len(involved),
		}).Info("🎯 Claim detected")

		events = append(events, ClaimEvent{
			Slot:             slot,
			Signature:        signature,
			Program:          version,
			Kind:             kind,
			InvolvedAccounts: involved,
		})
	}

	return events
}

// accountTable returns static message keys followed by addresses loaded
// from lookup tables, writable before readonly, matching the runtime's
// account index order for v0 transactions.
func accountTable(message *pb.Message, meta *pb.TransactionStatusMeta) [][]byte {
	static := message.GetAccountKeys()
	writable := meta.GetLoadedWritableAddresses()
	readonly := meta.GetLoadedReadonlyAddresses()
	if len(writable) == 0 && len(readonly) == 0 {
		return static
	}

	keys := make([][]byte, 0, len(static)+len(writable)+len(readonly))
	keys = append(keys, static...)
	keys = append(keys, writable...)
	keys = append(keys, readonly...)
	return keys
}

func keyAt(keys [][]byte, idx uint32) (solana.PublicKey, bool) {
	if int(idx) >= len(keys) || len(keys[idx]) != solana.PublicKeyLength {
		return solana.PublicKey{}, false
	}
	return solana.PublicKeyFromBytes(keys[idx]), true
}
