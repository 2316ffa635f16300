package pancake

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zilstream/pancake-indexer/internal/entity"
	"github.com/zilstream/pancake-indexer/internal/modules/core"
)

// EventMeta locates an event on chain. Address is the emitting contract.
type EventMeta struct {
	Address         string
	BlockNumber     uint64
	BlockTimestamp  uint64
	TransactionHash string
	LogIndex        uint
}

func (m EventMeta) historyID() string {
	return entity.HistoryID(m.TransactionHash, m.LogIndex)
}

func (m EventMeta) block() entity.EventBlock {
	return entity.EventBlock{
		BlockNumber:     strconv.FormatUint(m.BlockNumber, 10),
		BlockTimestamp:  strconv.FormatUint(m.BlockTimestamp, 10),
		TransactionHash: m.TransactionHash,
	}
}

func (m EventMeta) logIndex() string {
	return strconv.FormatUint(uint64(m.LogIndex), 10)
}

type PairCreatedEvent struct {
	EventMeta
	Token0    string
	Token1    string
	Pair      string
	PairIndex *big.Int
}

type SyncEvent struct {
	EventMeta
	Reserve0 *big.Int
	Reserve1 *big.Int
}

type MintEvent struct {
	EventMeta
	Sender  string
	Amount0 *big.Int
	Amount1 *big.Int
}

type BurnEvent struct {
	EventMeta
	Sender  string
	Amount0 *big.Int
	Amount1 *big.Int
	To      string
}

type SwapEvent struct {
	EventMeta
	Sender     string
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
	To         string
}

// addressID is the canonical record identifier for an address.
func addressID(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func metaOf(ev *core.ParsedEvent) EventMeta {
	return EventMeta{
		Address:         addressID(ev.Address),
		BlockNumber:     ev.BlockNumber,
		BlockTimestamp:  ev.BlockTimestamp,
		TransactionHash: ev.TransactionHash.Hex(),
		LogIndex:        ev.LogIndex,
	}
}

// argReader collects the first decoding error so decoders stay linear.
type argReader struct {
	ev  *core.ParsedEvent
	err error
}

func (r *argReader) address(name string) string {
	if r.err != nil {
		return ""
	}
	addr, err := r.ev.AddressArg(name)
	if err != nil {
		r.err = err
		return ""
	}
	return addressID(addr)
}

func (r *argReader) bigInt(name string) *big.Int {
	if r.err != nil {
		return nil
	}
	n, err := r.ev.BigIntArg(name)
	if err != nil {
		r.err = err
		return nil
	}
	return n
}

func decodePairCreated(ev *core.ParsedEvent) (*PairCreatedEvent, error) {
	r := argReader{ev: ev}
	out := &PairCreatedEvent{
		EventMeta: metaOf(ev),
		Token0:    r.address("token0"),
		Token1:    r.address("token1"),
		Pair:      r.address("pair"),
		PairIndex: r.bigInt(pairIndexArg),
	}
	return out, r.err
}

func decodeSync(ev *core.ParsedEvent) (*SyncEvent, error) {
	r := argReader{ev: ev}
	out := &SyncEvent{
		EventMeta: metaOf(ev),
		Reserve0:  r.bigInt("reserve0"),
		Reserve1:  r.bigInt("reserve1"),
	}
	return out, r.err
}

func decodeMint(ev *core.ParsedEvent) (*MintEvent, error) {
	r := argReader{ev: ev}
	out := &MintEvent{
		EventMeta: metaOf(ev),
		Sender:    r.address("sender"),
		Amount0:   r.bigInt("amount0"),
		Amount1:   r.bigInt("amount1"),
	}
	return out, r.err
}

func decodeBurn(ev *core.ParsedEvent) (*BurnEvent, error) {
	r := argReader{ev: ev}
	out := &BurnEvent{
		EventMeta: metaOf(ev),
		Sender:    r.address("sender"),
		Amount0:   r.bigInt("amount0"),
		Amount1:   r.bigInt("amount1"),
		To:        r.address("to"),
	}
	return out, r.err
}

func decodeSwap(ev *core.ParsedEvent) (*SwapEvent, error) {
	r := argReader{ev: ev}
	out := &SwapEvent{
		EventMeta:  metaOf(ev),
		Sender:     r.address("sender"),
		Amount0In:  r.bigInt("amount0In"),
		Amount1In:  r.bigInt("amount1In"),
		Amount0Out: r.bigInt("amount0Out"),
		Amount1Out: r.bigInt("amount1Out"),
		To:         r.address("to"),
	}
	return out, r.err
}
