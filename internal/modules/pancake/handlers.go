package pancake

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/zilstream/pancake-indexer/internal/entity"
	"github.com/zilstream/pancake-indexer/internal/metrics"
	"github.com/zilstream/pancake-indexer/internal/numeric"
)

// PairNotifier is told about pair changes and new history records. It is
// called while the event is applied, before the store commits, so an
// implementation must hold the notifications until the event's outcome is
// known.
type PairNotifier interface {
	EnqueuePairChanged(address string)
	PublishEvent(address string, eventType string, data interface{})
}

// Handlers applies PairCreated, Sync, Mint, Burn and Swap events to the
// aggregate entities. Each method runs its reads and writes in sequence
// against the store it is given.
type Handlers struct {
	tokens   *TokenRegistry
	notifier PairNotifier
	logger   zerolog.Logger
}

func NewHandlers(tokens *TokenRegistry, logger zerolog.Logger) *Handlers {
	return &Handlers{
		tokens: tokens,
		logger: logger,
	}
}

// SetNotifier attaches a notifier. Nil disables notifications.
func (h *Handlers) SetNotifier(n PairNotifier) {
	h.notifier = n
}

func (h *Handlers) pairChanged(address string) {
	if h.notifier != nil {
		h.notifier.EnqueuePairChanged(address)
	}
}

func (h *Handlers) recorded(pair string, eventType string, record entity.Record) {
	if h.notifier != nil {
		h.notifier.PublishEvent(pair, eventType, record)
	}
}

func (h *Handlers) skipped(event string, reason string, meta EventMeta) {
	metrics.IncSkipped(event, reason)
	h.logger.Debug().
		Str("event", event).
		Str("reason", reason).
		Str("pair", meta.Address).
		Uint64("block", meta.BlockNumber).
		Str("tx_hash", meta.TransactionHash).
		Msg("Skipped aggregate update")
}

// loadTokens returns both tokens, or nil for either that is missing.
func (h *Handlers) loadTokens(ctx context.Context, store entity.Store, pair *entity.Pair) (*entity.Token, *entity.Token, error) {
	token0, err := entity.GetToken(ctx, store, pair.Token0)
	if err != nil {
		return nil, nil, err
	}
	token1, err := entity.GetToken(ctx, store, pair.Token1)
	if err != nil {
		return nil, nil, err
	}
	return token0, token1, nil
}

func (h *Handlers) HandlePairCreated(ctx context.Context, store entity.Store, ev *PairCreatedEvent) error {
	if _, err := IncrementEventsSummary(ctx, store, CounterPairCreated); err != nil {
		return err
	}

	token0, err := h.tokens.GetOrCreate(ctx, store, ev.Token0)
	if err != nil {
		return err
	}
	token1, err := h.tokens.GetOrCreate(ctx, store, ev.Token1)
	if err != nil {
		return err
	}

	pair := &entity.Pair{
		ID:                     ev.Pair,
		Factory:                ev.Address,
		Token0:                 token0.ID,
		Token1:                 token1.ID,
		Reserve0:               numeric.Zero,
		Reserve1:               numeric.Zero,
		TotalSupply:            numeric.Zero,
		ReserveBNB:             numeric.Zero,
		ReserveUSD:             numeric.Zero,
		TrackedReserveBNB:      numeric.Zero,
		Token0Price:            numeric.Zero,
		Token1Price:            numeric.Zero,
		VolumeToken0:           numeric.Zero,
		VolumeToken1:           numeric.Zero,
		VolumeUSD:              numeric.Zero,
		UntrackedVolumeUSD:     numeric.Zero,
		TxCount:                numeric.One, // the creation itself
		CreatedAtTimestamp:     strconv.FormatUint(ev.BlockTimestamp, 10),
		CreatedAtBlockNumber:   strconv.FormatUint(ev.BlockNumber, 10),
		LiquidityProviderCount: numeric.Zero,
	}
	if err := store.Set(ctx, entity.CollectionPair, pair); err != nil {
		return fmt.Errorf("failed to create pair %s: %w", pair.ID, err)
	}

	factory, err := entity.GetFactory(ctx, store, ev.Address)
	if err != nil {
		return err
	}
	if factory == nil {
		factory = &entity.Factory{
			ID:                ev.Address,
			PairCount:         numeric.One,
			TotalVolumeUSD:    numeric.Zero,
			TotalLiquidityUSD: numeric.Zero,
			TotalLiquidityBNB: numeric.Zero,
			TxCount:           numeric.One,
		}
	} else {
		factory.PairCount = numeric.Increment(factory.PairCount)
		factory.TxCount = numeric.Increment(factory.TxCount)
	}
	if err := store.Set(ctx, entity.CollectionFactory, factory); err != nil {
		return fmt.Errorf("failed to update factory %s: %w", factory.ID, err)
	}

	pairIndex := numeric.Zero
	if ev.PairIndex != nil {
		pairIndex = ev.PairIndex.String()
	}
	record := &entity.PairCreated{
		ID:            ev.historyID(),
		Token0:        token0.ID,
		Token1:        token1.ID,
		Pair:          pair.ID,
		PairIndex:     pairIndex,
		EventsSummary: EventsSummaryID,
		EventBlock:    ev.block(),
	}
	if err := store.Set(ctx, entity.CollectionPairCreated, record); err != nil {
		return fmt.Errorf("failed to record pair creation %s: %w", record.ID, err)
	}
	h.recorded(pair.ID, "pair_created", record)

	h.logger.Info().
		Str("pair", pair.ID).
		Str("token0", token0.Symbol).
		Str("token1", token1.Symbol).
		Str("factory_pairs", factory.PairCount).
		Uint64("block", ev.BlockNumber).
		Msg("Pair created")

	h.pairChanged(pair.ID)
	return nil
}

// HandleSync refreshes reserves and prices. The history record is written
// even when the pair is unknown, scaled with the default precision.
func (h *Handlers) HandleSync(ctx context.Context, store entity.Store, ev *SyncEvent) error {
	if _, err := IncrementEventsSummary(ctx, store, CounterSync); err != nil {
		return err
	}

	pair, err := entity.GetPair(ctx, store, ev.Address)
	if err != nil {
		return err
	}

	if pair == nil {
		h.skipped(EventSync, "unknown_pair", ev.EventMeta)
	} else {
		token0, token1, err := h.loadTokens(ctx, store, pair)
		if err != nil {
			return err
		}
		if token0 == nil || token1 == nil {
			h.skipped(EventSync, "unknown_token", ev.EventMeta)
		} else {
			pair.Reserve0 = numeric.ToDecimal(ev.Reserve0, numeric.ParseDecimals(token0.Decimals))
			pair.Reserve1 = numeric.ToDecimal(ev.Reserve1, numeric.ParseDecimals(token1.Decimals))
			pair.Token0Price = numeric.ScaledQuotient(pair.Reserve0, pair.Reserve1, numeric.DefaultDecimals)
			pair.Token1Price = numeric.ScaledQuotient(pair.Reserve1, pair.Reserve0, numeric.DefaultDecimals)

			if err := store.Set(ctx, entity.CollectionPair, pair); err != nil {
				return fmt.Errorf("failed to update pair %s: %w", pair.ID, err)
			}
			h.pairChanged(pair.ID)
		}
	}

	record := &entity.Sync{
		ID:         ev.historyID(),
		Pair:       ev.Address,
		Reserve0:   numeric.ToDecimal(ev.Reserve0, numeric.DefaultDecimals),
		Reserve1:   numeric.ToDecimal(ev.Reserve1, numeric.DefaultDecimals),
		LogIndex:   ev.logIndex(),
		EventBlock: ev.block(),
	}
	if err := store.Set(ctx, entity.CollectionSync, record); err != nil {
		return fmt.Errorf("failed to record sync %s: %w", record.ID, err)
	}
	h.recorded(ev.Address, "sync", record)
	return nil
}

func (h *Handlers) HandleMint(ctx context.Context, store entity.Store, ev *MintEvent) error {
	if _, err := IncrementEventsSummary(ctx, store, CounterMint); err != nil {
		return err
	}

	pair, err := entity.GetPair(ctx, store, ev.Address)
	if err != nil {
		return err
	}
	if pair == nil {
		h.skipped(EventMint, "unknown_pair", ev.EventMeta)
		return nil
	}

	pair.TxCount = numeric.Increment(pair.TxCount)
	if err := store.Set(ctx, entity.CollectionPair, pair); err != nil {
		return fmt.Errorf("failed to update pair %s: %w", pair.ID, err)
	}
	h.pairChanged(pair.ID)

	token0, token1, err := h.loadTokens(ctx, store, pair)
	if err != nil {
		return err
	}
	if token0 == nil || token1 == nil {
		h.skipped(EventMint, "unknown_token", ev.EventMeta)
		return nil
	}

	record := &entity.Mint{
		ID:         ev.historyID(),
		Pair:       ev.Address,
		Sender:     ev.Sender,
		Amount0:    numeric.ToDecimal(ev.Amount0, numeric.ParseDecimals(token0.Decimals)),
		Amount1:    numeric.ToDecimal(ev.Amount1, numeric.ParseDecimals(token1.Decimals)),
		LogIndex:   ev.logIndex(),
		AmountUSD:  numeric.Zero,
		EventBlock: ev.block(),
	}
	if err := store.Set(ctx, entity.CollectionMint, record); err != nil {
		return fmt.Errorf("failed to record mint %s: %w", record.ID, err)
	}
	h.recorded(ev.Address, "mint", record)
	return nil
}

func (h *Handlers) HandleBurn(ctx context.Context, store entity.Store, ev *BurnEvent) error {
	if _, err := IncrementEventsSummary(ctx, store, CounterBurn); err != nil {
		return err
	}

	pair, err := entity.GetPair(ctx, store, ev.Address)
	if err != nil {
		return err
	}
	if pair == nil {
		h.skipped(EventBurn, "unknown_pair", ev.EventMeta)
		return nil
	}

	pair.TxCount = numeric.Increment(pair.TxCount)
	if err := store.Set(ctx, entity.CollectionPair, pair); err != nil {
		return fmt.Errorf("failed to update pair %s: %w", pair.ID, err)
	}
	h.pairChanged(pair.ID)

	token0, token1, err := h.loadTokens(ctx, store, pair)
	if err != nil {
		return err
	}
	if token0 == nil || token1 == nil {
		h.skipped(EventBurn, "unknown_token", ev.EventMeta)
		return nil
	}

	record := &entity.Burn{
		ID:         ev.historyID(),
		Pair:       ev.Address,
		Sender:     ev.Sender,
		Amount0:    numeric.ToDecimal(ev.Amount0, numeric.ParseDecimals(token0.Decimals)),
		Amount1:    numeric.ToDecimal(ev.Amount1, numeric.ParseDecimals(token1.Decimals)),
		To:         ev.To,
		LogIndex:   ev.logIndex(),
		AmountUSD:  numeric.Zero,
		EventBlock: ev.block(),
	}
	if err := store.Set(ctx, entity.CollectionBurn, record); err != nil {
		return fmt.Errorf("failed to record burn %s: %w", record.ID, err)
	}
	h.recorded(ev.Address, "burn", record)
	return nil
}

// HandleSwap accumulates volumes. The txCount bump is only persisted along
// with the volumes, so a swap on a pair with a missing token leaves the pair
// untouched.
func (h *Handlers) HandleSwap(ctx context.Context, store entity.Store, ev *SwapEvent) error {
	if _, err := IncrementEventsSummary(ctx, store, CounterSwap); err != nil {
		return err
	}

	pair, err := entity.GetPair(ctx, store, ev.Address)
	if err != nil {
		return err
	}
	if pair == nil {
		h.skipped(EventSwap, "unknown_pair", ev.EventMeta)
		return nil
	}

	pair.TxCount = numeric.Increment(pair.TxCount)

	token0, token1, err := h.loadTokens(ctx, store, pair)
	if err != nil {
		return err
	}
	if token0 == nil || token1 == nil {
		h.skipped(EventSwap, "unknown_token", ev.EventMeta)
		return nil
	}

	decimals0 := numeric.ParseDecimals(token0.Decimals)
	decimals1 := numeric.ParseDecimals(token1.Decimals)
	amount0In := numeric.ToDecimal(ev.Amount0In, decimals0)
	amount1In := numeric.ToDecimal(ev.Amount1In, decimals1)
	amount0Out := numeric.ToDecimal(ev.Amount0Out, decimals0)
	amount1Out := numeric.ToDecimal(ev.Amount1Out, decimals1)

	pair.VolumeToken0 = numeric.Add(pair.VolumeToken0, amount0In, amount0Out)
	pair.VolumeToken1 = numeric.Add(pair.VolumeToken1, amount1In, amount1Out)

	if err := store.Set(ctx, entity.CollectionPair, pair); err != nil {
		return fmt.Errorf("failed to update pair %s: %w", pair.ID, err)
	}
	h.pairChanged(pair.ID)

	record := &entity.Swap{
		ID:         ev.historyID(),
		Pair:       ev.Address,
		Sender:     ev.Sender,
		Amount0In:  amount0In,
		Amount1In:  amount1In,
		Amount0Out: amount0Out,
		Amount1Out: amount1Out,
		To:         ev.To,
		LogIndex:   ev.logIndex(),
		AmountUSD:  numeric.Zero,
		EventBlock: ev.block(),
	}
	if err := store.Set(ctx, entity.CollectionSwap, record); err != nil {
		return fmt.Errorf("failed to record swap %s: %w", record.ID, err)
	}
	h.recorded(ev.Address, "swap", record)
	return nil
}
