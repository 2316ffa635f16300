package pancake

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zilstream/pancake-indexer/internal/entity"
	"github.com/zilstream/pancake-indexer/internal/numeric"
)

const (
	factoryAddr = "0xca143ce32fe78f1f7019d7d551a6402fc5350c73"
	token0Addr  = "0x0e09fabb73bd3ade0a17ecc321fd13a19e81ce82"
	token1Addr  = "0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c"
	pairAddr    = "0x0ed7e52944161450477ee417de9cd3a859b14fd0"
	senderAddr  = "0x10ed43c718714eb63d5aa57b78b54704e256024e"
	txHash      = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changed []string
	events  []string
}

func (n *recordingNotifier) EnqueuePairChanged(address string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, address)
}

func (n *recordingNotifier) PublishEvent(address string, eventType string, data interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType+":"+address)
}

func newTestHandlers(reader TokenContractReader) *Handlers {
	return NewHandlers(NewTokenRegistry(reader, 0, testLogger()), testLogger())
}

func meta(address string, block uint64, logIndex uint) EventMeta {
	return EventMeta{
		Address:         address,
		BlockNumber:     block,
		BlockTimestamp:  1619136000 + block,
		TransactionHash: txHash,
		LogIndex:        logIndex,
	}
}

func pairCreated(logIndex uint) *PairCreatedEvent {
	return &PairCreatedEvent{
		EventMeta: meta(factoryAddr, 6810000, logIndex),
		Token0:    token0Addr,
		Token1:    token1Addr,
		Pair:      pairAddr,
		PairIndex: big.NewInt(1),
	}
}

func swap(logIndex uint, amount0In, amount1In, amount0Out, amount1Out int64) *SwapEvent {
	return &SwapEvent{
		EventMeta:  meta(pairAddr, 6810010, logIndex),
		Sender:     senderAddr,
		Amount0In:  big.NewInt(amount0In),
		Amount1In:  big.NewInt(amount1In),
		Amount0Out: big.NewInt(amount0Out),
		Amount1Out: big.NewInt(amount1Out),
		To:         senderAddr,
	}
}

func syncEvent(logIndex uint, reserve0, reserve1 *big.Int) *SyncEvent {
	return &SyncEvent{
		EventMeta: meta(pairAddr, 6810005, logIndex),
		Reserve0:  reserve0,
		Reserve1:  reserve1,
	}
}

func mint(logIndex uint, amount0, amount1 int64) *MintEvent {
	return &MintEvent{
		EventMeta: meta(pairAddr, 6810004, logIndex),
		Sender:    senderAddr,
		Amount0:   big.NewInt(amount0),
		Amount1:   big.NewInt(amount1),
	}
}

func burn(logIndex uint, amount0, amount1 int64) *BurnEvent {
	return &BurnEvent{
		EventMeta: meta(pairAddr, 6810020, logIndex),
		Sender:    senderAddr,
		Amount0:   big.NewInt(amount0),
		Amount1:   big.NewInt(amount1),
		To:        senderAddr,
	}
}

func mustPair(t *testing.T, store entity.Store) *entity.Pair {
	t.Helper()
	pair, err := entity.GetPair(context.Background(), store, pairAddr)
	require.NoError(t, err)
	require.NotNil(t, pair)
	return pair
}

func mustSummary(t *testing.T, store entity.Store) *entity.EventsSummary {
	t.Helper()
	summary, err := entity.GetEventsSummary(context.Background(), store, EventsSummaryID)
	require.NoError(t, err)
	require.NotNil(t, summary)
	return summary
}

func TestHandlePairCreated(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store with fallback metadata", func(t *testing.T) {
		store := entity.NewMemoryStore()
		h := newTestHandlers(nil)

		ev := pairCreated(0)
		require.NoError(t, h.HandlePairCreated(ctx, store, ev))

		for _, addr := range []string{token0Addr, token1Addr} {
			token, err := entity.GetToken(ctx, store, addr)
			require.NoError(t, err)
			require.NotNil(t, token, addr)
			assert.Equal(t, "UNKNOWN", token.Symbol)
			assert.Equal(t, "Unknown", token.Name)
			assert.Equal(t, "18", token.Decimals)
		}

		pair := mustPair(t, store)
		assert.Equal(t, factoryAddr, pair.Factory)
		assert.Equal(t, token0Addr, pair.Token0)
		assert.Equal(t, token1Addr, pair.Token1)
		assert.Equal(t, "0", pair.Reserve0)
		assert.Equal(t, "0", pair.Reserve1)
		assert.Equal(t, "0", pair.Token0Price)
		assert.Equal(t, "0", pair.Token1Price)
		assert.Equal(t, "0", pair.VolumeToken0)
		assert.Equal(t, "1", pair.TxCount)
		assert.Equal(t, "6810000", pair.CreatedAtBlockNumber)
		assert.Equal(t, "1625946000", pair.CreatedAtTimestamp)

		factory, err := entity.GetFactory(ctx, store, factoryAddr)
		require.NoError(t, err)
		require.NotNil(t, factory)
		assert.Equal(t, "1", factory.PairCount)
		assert.Equal(t, "1", factory.TxCount)
		assert.Equal(t, "0", factory.TotalVolumeUSD)
		assert.Equal(t, "0", factory.TotalLiquidityBNB)

		assert.Equal(t, "1", mustSummary(t, store).PancakeFactoryPairCreatedCount)

		var record entity.PairCreated
		found, err := store.Get(ctx, entity.CollectionPairCreated, txHash+"-0", &record)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, entity.PairCreated{
			ID:            txHash + "-0",
			Token0:        token0Addr,
			Token1:        token1Addr,
			Pair:          pairAddr,
			PairIndex:     "1",
			EventsSummary: "GlobalEventsSummary",
			EventBlock: entity.EventBlock{
				BlockNumber:     "6810000",
				BlockTimestamp:  "1625946000",
				TransactionHash: txHash,
			},
		}, record)
		assert.Equal(t, 1, store.Len(entity.CollectionPairCreated))
	})

	t.Run("existing factory is incremented", func(t *testing.T) {
		store := entity.NewMemoryStore()
		h := newTestHandlers(nil)

		require.NoError(t, h.HandlePairCreated(ctx, store, pairCreated(0)))

		second := pairCreated(1)
		second.Pair = "0xa527a61703d82139f8a06bc30097cc9caa2df5a6"
		second.Token1 = "0xe9e7cea3dedca5984780bafc599bd69add087d56"
		require.NoError(t, h.HandlePairCreated(ctx, store, second))

		factory, err := entity.GetFactory(ctx, store, factoryAddr)
		require.NoError(t, err)
		assert.Equal(t, "2", factory.PairCount)
		assert.Equal(t, "2", factory.TxCount)

		// token0 is shared and created once
		assert.Equal(t, 3, store.Len(entity.CollectionToken))
		assert.Equal(t, 2, store.Len(entity.CollectionPair))
		assert.Equal(t, "2", mustSummary(t, store).PancakeFactoryPairCreatedCount)
	})

	t.Run("existing tokens are reused", func(t *testing.T) {
		store := entity.NewMemoryStore()
		reader := cakeReader()
		h := newTestHandlers(reader)

		require.NoError(t, store.Set(ctx, entity.CollectionToken, &entity.Token{ID: token0Addr, Symbol: "CAKE", Decimals: "18"}))
		require.NoError(t, h.HandlePairCreated(ctx, store, pairCreated(0)))

		token0, err := entity.GetToken(ctx, store, token0Addr)
		require.NoError(t, err)
		assert.Equal(t, "CAKE", token0.Symbol)
		// only token1 was read
		assert.Equal(t, int32(4), reader.calls.Load())
	})

	t.Run("notifies pair change", func(t *testing.T) {
		store := entity.NewMemoryStore()
		h := newTestHandlers(nil)
		n := &recordingNotifier{}
		h.SetNotifier(n)

		require.NoError(t, h.HandlePairCreated(ctx, store, pairCreated(0)))
		assert.Equal(t, []string{pairAddr}, n.changed)
	})
}

func TestHandleSwap(t *testing.T) {
	ctx := context.Background()

	t.Run("after pair creation", func(t *testing.T) {
		store := entity.NewMemoryStore()
		h := newTestHandlers(nil)
		n := &recordingNotifier{}
		h.SetNotifier(n)

		require.NoError(t, h.HandlePairCreated(ctx, store, pairCreated(0)))
		require.NoError(t, h.HandleSwap(ctx, store, swap(7, 100, 0, 0, 0)))

		pair := mustPair(t, store)
		assert.Equal(t, "100000000000000000000", pair.VolumeToken0)
		assert.Equal(t, "0", pair.VolumeToken1)
		assert.Equal(t, "2", pair.TxCount)

		var record entity.Swap
		found, err := store.Get(ctx, entity.CollectionSwap, txHash+"-7", &record)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "0", record.AmountUSD)
		assert.Equal(t, "100000000000000000000", record.Amount0In)
		assert.Equal(t, "0", record.Amount1Out)
		assert.Equal(t, "7", record.LogIndex)
		assert.Equal(t, senderAddr, record.Sender)
		assert.Equal(t, senderAddr, record.To)
		assert.Equal(t, pairAddr, record.Pair)

		assert.Equal(t, "1", mustSummary(t, store).PancakePairSwapCount)
		assert.Contains(t, n.events, "swap:"+pairAddr)
	})

	t.Run("volumes accumulate in and out", func(t *testing.T) {
		store := entity.NewMemoryStore()
		h := newTestHandlers(nil)

		require.NoError(t, h.HandlePairCreated(ctx, store, pairCreated(0)))
		require.NoError(t, h.HandleSwap(ctx, store, swap(1, 1, 0, 0, 2)))
		require.NoError(t, h.HandleSwap(ctx, store, swap(2, 0, 3, 4, 0)))

		pair := mustPair(t, store)
		assert.Equal(t, "5000000000000000000", pair.VolumeToken0)
		assert.Equal(t, "5000000000000000000", pair.VolumeToken1)
		assert.Equal(t, "3", pair.TxCount)
	})

	t.Run("unknown pair only counts", func(t *testing.T) {
		store := entity.NewMemoryStore()
		h := newTestHandlers(nil)

		require.NoError(t, h.HandleSwap(ctx, store, swap(1, 100, 0, 0, 0)))

		assert.Equal(t, "1", mustSummary(t, store).PancakePairSwapCount)
		assert.Equal(t, 0, store.Len(entity.CollectionPair))
		assert.Equal(t, 0, store.Len(entity.CollectionSwap))
	})

	t.Run("missing token leaves pair untouched", func(t *testing.T) {
		store := entity.NewMemoryStore()
		h := newTestHandlers(nil)

		require.NoError(t, store.Set(ctx, entity.CollectionToken, &entity.Token{ID: token0Addr, Decimals: "18"}))
		require.NoError(t, store.Set(ctx, entity.CollectionPair, &entity.Pair{
			ID: pairAddr, Token0: token0Addr, Token1: token1Addr, TxCount: "5", VolumeToken0: "0",
		}))
		before, _ := store.Raw(entity.CollectionPair, pairAddr)

		require.NoError(t, h.HandleSwap(ctx, store, swap(1, 100, 0, 0, 0)))

		after, _ := store.Raw(entity.CollectionPair, pairAddr)
		assert.Equal(t, before, after)
		assert.Equal(t, 0, store.Len(entity.CollectionSwap))
		assert.Equal(t, "1", mustSummary(t, store).PancakePairSwapCount)
	})
}

func TestHandleSync(t *testing.T) {
	ctx := context.Background()

	e18 := func(n int64) *big.Int {
		v, _ := new(big.Int).SetString(numeric.ToDecimal(big.NewInt(n), 18), 10)
		return v
	}

	t.Run("updates reserves and prices", func(t *testing.T) {
		store := entity.NewMemoryStore()
		h := newTestHandlers(nil)
		require.NoError(t, h.HandlePairCreated(ctx, store, pairCreated(0)))

		require.NoError(t, h.HandleSync(ctx, store, syncEvent(3, big.NewInt(2), big.NewInt(4))))

		pair := mustPair(t, store)
		assert.Equal(t, "2000000000000000000", pair.Reserve0)
		assert.Equal(t, "4000000000000000000", pair.Reserve1)
		assert.Equal(t, "500000000000000000", pair.Token0Price)
		assert.Equal(t, "2000000000000000000", pair.Token1Price)
		// sync is not a transaction
		assert.Equal(t, "1", pair.TxCount)

		var record entity.Sync
		found, err := store.Get(ctx, entity.CollectionSync, txHash+"-3", &record)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "2000000000000000000", record.Reserve0)
		assert.Equal(t, "4000000000000000000", record.Reserve1)
		assert.Equal(t, "3", record.LogIndex)
		assert.Equal(t, "6810005", record.BlockNumber)
	})

	t.Run("zero reserve gives zero price", func(t *testing.T) {
		store := entity.NewMemoryStore()
		h := newTestHandlers(nil)
		require.NoError(t, h.HandlePairCreated(ctx, store, pairCreated(0)))

		require.NoError(t, h.HandleSync(ctx, store, syncEvent(3, big.NewInt(9), big.NewInt(0))))

		pair := mustPair(t, store)
		assert.Equal(t, "0", pair.Token0Price)
		assert.Equal(t, "0", pair.Token1Price)
		assert.Equal(t, "9000000000000000000", pair.Reserve0)
	})

	t.Run("uses token precision", func(t *testing.T) {
		store := entity.NewMemoryStore()
		h := newTestHandlers(nil)
		require.NoError(t, store.Set(ctx, entity.CollectionToken, &entity.Token{ID: token0Addr, Decimals: "6"}))
		require.NoError(t, store.Set(ctx, entity.CollectionToken, &entity.Token{ID: token1Addr, Decimals: "0"}))
		require.NoError(t, store.Set(ctx, entity.CollectionPair, &entity.Pair{ID: pairAddr, Token0: token0Addr, Token1: token1Addr}))

		require.NoError(t, h.HandleSync(ctx, store, syncEvent(0, big.NewInt(3), big.NewInt(7))))

		pair := mustPair(t, store)
		assert.Equal(t, "3000000", pair.Reserve0)
		assert.Equal(t, "7", pair.Reserve1)

		// history always uses 18 decimals
		var record entity.Sync
		_, err := store.Get(ctx, entity.CollectionSync, txHash+"-0", &record)
		require.NoError(t, err)
		assert.Equal(t, "3000000000000000000", record.Reserve0)
		assert.Equal(t, "7000000000000000000", record.Reserve1)
	})

	t.Run("price invariant", func(t *testing.T) {
		reserves := [][2]*big.Int{
			{big.NewInt(1), big.NewInt(3)},
			{big.NewInt(12345), big.NewInt(678)},
			{e18(1000), big.NewInt(7)},
			{big.NewInt(5), e18(33)},
		}
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

		for i, r := range reserves {
			store := entity.NewMemoryStore()
			h := newTestHandlers(nil)
			require.NoError(t, h.HandlePairCreated(ctx, store, pairCreated(0)))
			require.NoError(t, h.HandleSync(ctx, store, syncEvent(uint(i+1), r[0], r[1])))

			pair := mustPair(t, store)
			reserve0 := numeric.Parse(pair.Reserve0)
			reserve1 := numeric.Parse(pair.Reserve1)
			price := numeric.Parse(pair.Token0Price)

			target := new(big.Int).Mul(reserve0, scale)
			lower := new(big.Int).Mul(price, reserve1)
			upper := new(big.Int).Mul(new(big.Int).Add(price, big.NewInt(1)), reserve1)
			assert.True(t, lower.Cmp(target) <= 0, "case %d", i)
			assert.True(t, upper.Cmp(target) > 0, "case %d", i)
		}
	})

	t.Run("unknown pair still records history", func(t *testing.T) {
		store := entity.NewMemoryStore()
		h := newTestHandlers(nil)

		require.NoError(t, h.HandleSync(ctx, store, syncEvent(2, big.NewInt(1), big.NewInt(2))))

		assert.Equal(t, 0, store.Len(entity.CollectionPair))
		assert.Equal(t, 1, store.Len(entity.CollectionSync))
		assert.Equal(t, "1", mustSummary(t, store).PancakePairSyncCount)
	})

	t.Run("missing token skips pair update", func(t *testing.T) {
		store := entity.NewMemoryStore()
		h := newTestHandlers(nil)
		require.NoError(t, store.Set(ctx, entity.CollectionPair, &entity.Pair{
			ID: pairAddr, Token0: token0Addr, Token1: token1Addr, Reserve0: "0", Reserve1: "0",
		}))
		before, _ := store.Raw(entity.CollectionPair, pairAddr)

		require.NoError(t, h.HandleSync(ctx, store, syncEvent(2, big.NewInt(1), big.NewInt(2))))

		after, _ := store.Raw(entity.CollectionPair, pairAddr)
		assert.Equal(t, before, after)
		assert.Equal(t, 1, store.Len(entity.CollectionSync))
	})
}

func TestHandleMintBurn(t *testing.T) {
	ctx := context.Background()

	t.Run("mint records scaled amounts", func(t *testing.T) {
		store := entity.NewMemoryStore()
		h := newTestHandlers(nil)
		require.NoError(t, h.HandlePairCreated(ctx, store, pairCreated(0)))

		require.NoError(t, h.HandleMint(ctx, store, mint(4, 10, 20)))

		assert.Equal(t, "2", mustPair(t, store).TxCount)
		var record entity.Mint
		found, err := store.Get(ctx, entity.CollectionMint, txHash+"-4", &record)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "10000000000000000000", record.Amount0)
		assert.Equal(t, "20000000000000000000", record.Amount1)
		assert.Equal(t, "0", record.AmountUSD)
		assert.Equal(t, "4", record.LogIndex)
		assert.Equal(t, senderAddr, record.Sender)
		assert.Equal(t, "1", mustSummary(t, store).PancakePairMintCount)
	})

	t.Run("burn records recipient", func(t *testing.T) {
		store := entity.NewMemoryStore()
		h := newTestHandlers(nil)
		require.NoError(t, h.HandlePairCreated(ctx, store, pairCreated(0)))

		require.NoError(t, h.HandleBurn(ctx, store, burn(9, 1, 2)))

		assert.Equal(t, "2", mustPair(t, store).TxCount)
		var record entity.Burn
		found, err := store.Get(ctx, entity.CollectionBurn, txHash+"-9", &record)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, senderAddr, record.To)
		assert.Equal(t, "1000000000000000000", record.Amount0)
		assert.Equal(t, "2000000000000000000", record.Amount1)
		assert.Equal(t, "1", mustSummary(t, store).PancakePairBurnCount)
	})

	t.Run("missing token still counts the transaction", func(t *testing.T) {
		store := entity.NewMemoryStore()
		h := newTestHandlers(nil)
		require.NoError(t, store.Set(ctx, entity.CollectionToken, &entity.Token{ID: token1Addr, Decimals: "18"}))
		require.NoError(t, store.Set(ctx, entity.CollectionPair, &entity.Pair{
			ID: pairAddr, Token0: token0Addr, Token1: token1Addr, TxCount: "1",
		}))

		require.NoError(t, h.HandleMint(ctx, store, mint(1, 10, 20)))
		require.NoError(t, h.HandleBurn(ctx, store, burn(2, 10, 20)))

		assert.Equal(t, "3", mustPair(t, store).TxCount)
		assert.Equal(t, 0, store.Len(entity.CollectionMint))
		assert.Equal(t, 0, store.Len(entity.CollectionBurn))
	})

	t.Run("unknown pair only counts", func(t *testing.T) {
		store := entity.NewMemoryStore()
		h := newTestHandlers(nil)

		require.NoError(t, h.HandleMint(ctx, store, mint(1, 10, 20)))
		require.NoError(t, h.HandleBurn(ctx, store, burn(2, 10, 20)))

		summary := mustSummary(t, store)
		assert.Equal(t, "1", summary.PancakePairMintCount)
		assert.Equal(t, "1", summary.PancakePairBurnCount)
		assert.Equal(t, 0, store.Len(entity.CollectionPair))
		assert.Equal(t, 0, store.Len(entity.CollectionMint))
		assert.Equal(t, 0, store.Len(entity.CollectionBurn))
		assert.Equal(t, 0, store.Len(entity.CollectionToken))
	})
}

func TestEventsSummaryCountsEveryKind(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemoryStore()
	h := newTestHandlers(nil)

	require.NoError(t, h.HandlePairCreated(ctx, store, pairCreated(0)))

	// Interleave kinds, including events for a pair that does not exist
	var logIndex uint = 1
	next := func() uint { logIndex++; return logIndex }
	for i := 0; i < 3; i++ {
		require.NoError(t, h.HandleSync(ctx, store, syncEvent(next(), big.NewInt(10), big.NewInt(20))))
		require.NoError(t, h.HandleMint(ctx, store, mint(next(), 1, 1)))
		require.NoError(t, h.HandleSwap(ctx, store, swap(next(), 1, 0, 0, 1)))
		if i%2 == 0 {
			require.NoError(t, h.HandleBurn(ctx, store, burn(next(), 1, 1)))
		}
	}
	orphan := swap(next(), 1, 0, 0, 0)
	orphan.Address = "0x00000000000000000000000000000000000000ff"
	require.NoError(t, h.HandleSwap(ctx, store, orphan))

	summary := mustSummary(t, store)
	assert.Equal(t, "1", summary.PancakeFactoryPairCreatedCount)
	assert.Equal(t, "3", summary.PancakePairSyncCount)
	assert.Equal(t, "3", summary.PancakePairMintCount)
	assert.Equal(t, "4", summary.PancakePairSwapCount)
	assert.Equal(t, "2", summary.PancakePairBurnCount)

	// 1 creation + 3 mints + 3 swaps + 2 burns
	assert.Equal(t, "9", mustPair(t, store).TxCount)
	assert.Equal(t, 3, store.Len(entity.CollectionSwap))
}

func TestHistoryNotifications(t *testing.T) {
	ctx := context.Background()
	store := entity.NewMemoryStore()
	h := newTestHandlers(nil)
	n := &recordingNotifier{}
	h.SetNotifier(n)

	require.NoError(t, h.HandlePairCreated(ctx, store, pairCreated(0)))
	require.NoError(t, h.HandleSync(ctx, store, syncEvent(1, big.NewInt(2), big.NewInt(4))))
	require.NoError(t, h.HandleMint(ctx, store, mint(2, 1, 1)))
	require.NoError(t, h.HandleBurn(ctx, store, burn(3, 1, 1)))
	require.NoError(t, h.HandleSwap(ctx, store, swap(4, 1, 0, 0, 1)))

	assert.Equal(t, []string{
		"pair_created:" + pairAddr,
		"sync:" + pairAddr,
		"mint:" + pairAddr,
		"burn:" + pairAddr,
		"swap:" + pairAddr,
	}, n.events)
}
