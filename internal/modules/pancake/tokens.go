package pancake

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zilstream/pancake-indexer/internal/entity"
	"github.com/zilstream/pancake-indexer/internal/metrics"
	"github.com/zilstream/pancake-indexer/internal/numeric"
)

// Values stored when a token metadata read fails.
const (
	FallbackName        = "Unknown"
	FallbackSymbol      = "UNKNOWN"
	FallbackDecimals    = "18"
	FallbackTotalSupply = "0"
)

// TokenContractReader reads ERC20 metadata. Each call fails independently.
type TokenContractReader interface {
	Name(ctx context.Context, token common.Address) (string, error)
	Symbol(ctx context.Context, token common.Address) (string, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
	TotalSupply(ctx context.Context, token common.Address) (*big.Int, error)
}

// TokenRegistry creates Token records on first reference.
type TokenRegistry struct {
	reader      TokenContractReader
	readTimeout time.Duration
	logger      zerolog.Logger
}

// NewTokenRegistry returns a registry backed by reader. A nil reader stores
// fallback metadata for every token. readTimeout bounds the metadata reads of
// one token; zero means no bound beyond ctx.
func NewTokenRegistry(reader TokenContractReader, readTimeout time.Duration, logger zerolog.Logger) *TokenRegistry {
	return &TokenRegistry{
		reader:      reader,
		readTimeout: readTimeout,
		logger:      logger.With().Str("component", "token_registry").Logger(),
	}
}

type tokenMetadata struct {
	name        string
	symbol      string
	decimals    string
	totalSupply string
}

// GetOrCreate returns the stored token, or reads its metadata and persists a
// new record. Stored tokens are never refreshed.
func (r *TokenRegistry) GetOrCreate(ctx context.Context, store entity.Store, address string) (*entity.Token, error) {
	token, err := entity.GetToken(ctx, store, address)
	if err != nil {
		return nil, err
	}
	if token != nil {
		return token, nil
	}

	md, err := r.readMetadata(ctx, common.HexToAddress(address))
	if err != nil {
		return nil, err
	}

	token = &entity.Token{
		ID:                 address,
		Symbol:             md.symbol,
		Name:               md.name,
		Decimals:           md.decimals,
		TotalSupply:        md.totalSupply,
		TradeVolume:        numeric.Zero,
		TradeVolumeUSD:     numeric.Zero,
		UntrackedVolumeUSD: numeric.Zero,
		TxCount:            numeric.Zero,
		TotalLiquidity:     numeric.Zero,
		DerivedBNB:         numeric.Zero,
	}
	if err := store.Set(ctx, entity.CollectionToken, token); err != nil {
		return nil, fmt.Errorf("failed to create token %s: %w", address, err)
	}

	r.logger.Debug().
		Str("token", address).
		Str("symbol", token.Symbol).
		Str("decimals", token.Decimals).
		Msg("Created token")

	return token, nil
}

// readMetadata runs the four reads concurrently. A failed read takes its
// fallback value; the only error is the caller's context ending, since a
// token stored with fallbacks is never refreshed.
func (r *TokenRegistry) readMetadata(ctx context.Context, token common.Address) (tokenMetadata, error) {
	md := tokenMetadata{
		name:        FallbackName,
		symbol:      FallbackSymbol,
		decimals:    FallbackDecimals,
		totalSupply: FallbackTotalSupply,
	}
	if r.reader == nil {
		return md, nil
	}

	g, readCtx := errgroup.WithContext(ctx)
	if r.readTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(readCtx, r.readTimeout)
		defer cancel()
	}

	g.Go(func() error {
		v, err := r.reader.Name(readCtx, token)
		if err != nil {
			return r.fallback(ctx, token, "name", err)
		}
		md.name = v
		return nil
	})
	g.Go(func() error {
		v, err := r.reader.Symbol(readCtx, token)
		if err != nil {
			return r.fallback(ctx, token, "symbol", err)
		}
		md.symbol = v
		return nil
	})
	g.Go(func() error {
		v, err := r.reader.Decimals(readCtx, token)
		if err != nil {
			return r.fallback(ctx, token, "decimals", err)
		}
		md.decimals = strconv.FormatUint(uint64(v), 10)
		return nil
	})
	g.Go(func() error {
		v, err := r.reader.TotalSupply(readCtx, token)
		if err != nil || v == nil {
			return r.fallback(ctx, token, "totalSupply", err)
		}
		md.totalSupply = v.String()
		return nil
	})

	if err := g.Wait(); err != nil {
		return tokenMetadata{}, fmt.Errorf("failed to read metadata of token %s: %w", token.Hex(), err)
	}
	return md, nil
}

// fallback records a failed read. It returns ctx's error when the caller is
// gone, so the token is not stored with fallbacks.
func (r *TokenRegistry) fallback(ctx context.Context, token common.Address, field string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	metrics.IncTokenFallback(field)
	r.logger.Debug().
		Err(err).
		Str("token", token.Hex()).
		Str("field", field).
		Msg("Token metadata read failed, using fallback")
	return nil
}
