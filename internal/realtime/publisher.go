package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/centrifugal/gocent/v3"
	"github.com/rs/zerolog"

	"github.com/zilstream/pancake-indexer/internal/entity"
)

const (
	flushInterval = 250 * time.Millisecond
	pairsChannel  = "dex.pairs"
)

// Broker is the part of the Centrifugo client the publisher uses.
type Broker interface {
	Publish(ctx context.Context, channel string, data []byte, opts ...gocent.PublishOption) (gocent.PublishResult, error)
}

// Publisher pushes pair snapshots and history events to Centrifugo. Changes
// reported while an event is applied are staged until EventCommitted, so a
// rolled back event publishes nothing. Changed pairs are flushed together and
// their snapshot is read from the store at flush time.
type Publisher struct {
	broker Broker
	store  entity.Store
	logger zerolog.Logger

	mu           sync.Mutex
	stagedPairs  map[string]struct{}
	stagedEvents []pairEvent
	pending      map[string]struct{}
	currentBlock uint64

	flushCh chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type pairEvent struct {
	address string
	payload []byte
}

type PublishConfig struct {
	APIURL string
	APIKey string
}

func NewPublisher(config PublishConfig, store entity.Store, logger zerolog.Logger) *Publisher {
	return NewPublisherWithBroker(gocent.New(gocent.Config{
		Addr: config.APIURL,
		Key:  config.APIKey,
	}), store, logger)
}

func NewPublisherWithBroker(broker Broker, store entity.Store, logger zerolog.Logger) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		broker:      broker,
		store:       store,
		logger:      logger.With().Str("component", "realtime-publisher").Logger(),
		stagedPairs: make(map[string]struct{}),
		pending:     make(map[string]struct{}),
		flushCh:     make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start runs the background flusher until Close.
func (p *Publisher) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.ctx.Done():
				p.logger.Info().Msg("Stopping publisher flusher")
				return
			case <-ticker.C:
				p.Flush(p.ctx)
			case <-p.flushCh:
				p.Flush(p.ctx)
			}
		}
	}()
}

func pairChannel(address string) string {
	return fmt.Sprintf("dex.pair.%s", strings.ToLower(address))
}

// EnqueuePairChanged stages a pair for the next flush.
func (p *Publisher) EnqueuePairChanged(address string) {
	p.mu.Lock()
	p.stagedPairs[strings.ToLower(address)] = struct{}{}
	p.mu.Unlock()
}

// PublishEvent stages one history event for the pair channel.
func (p *Publisher) PublishEvent(address string, eventType string, data interface{}) {
	payload, err := json.Marshal(map[string]any{
		"type":       "pair.event",
		"event_type": eventType,
		"data":       data,
	})
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to marshal event payload")
		return
	}

	p.mu.Lock()
	p.stagedEvents = append(p.stagedEvents, pairEvent{address: strings.ToLower(address), payload: payload})
	p.mu.Unlock()
}

// EventCommitted releases everything staged since the last outcome: pairs
// join the next flush and events are sent without waiting.
func (p *Publisher) EventCommitted() {
	p.mu.Lock()
	for addr := range p.stagedPairs {
		p.pending[addr] = struct{}{}
	}
	p.stagedPairs = make(map[string]struct{})
	events := p.stagedEvents
	p.stagedEvents = nil
	p.mu.Unlock()

	if len(events) > 0 {
		p.send(events)
	}
}

// EventDiscarded drops everything staged since the last outcome.
func (p *Publisher) EventDiscarded() {
	p.mu.Lock()
	p.stagedPairs = make(map[string]struct{})
	p.stagedEvents = nil
	p.mu.Unlock()
}

// SetCurrentBlock records the last processed block and triggers a flush.
func (p *Publisher) SetCurrentBlock(blockNumber uint64) {
	p.mu.Lock()
	p.currentBlock = blockNumber
	p.mu.Unlock()

	select {
	case p.flushCh <- struct{}{}:
	default:
	}
}

// send publishes events in order on a background goroutine.
func (p *Publisher) send(events []pairEvent) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for _, ev := range events {
			channel := pairChannel(ev.address)
			if _, err := p.broker.Publish(p.ctx, channel, ev.payload); err != nil {
				if p.ctx.Err() != nil {
					return
				}
				p.logger.Warn().
					Err(err).
					Str("pair", ev.address).
					Str("channel", channel).
					Msg("Failed to publish pair event")
			}
		}
	}()
}

// Flush publishes a snapshot of every pending pair, then one batch message.
func (p *Publisher) Flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	addrs := make([]string, 0, len(p.pending))
	for addr := range p.pending {
		addrs = append(addrs, addr)
	}
	currentBlock := p.currentBlock
	p.pending = make(map[string]struct{})
	p.mu.Unlock()

	sort.Strings(addrs)
	pairs := make([]*entity.Pair, 0, len(addrs))
	for _, addr := range addrs {
		pair, err := entity.GetPair(ctx, p.store, addr)
		if err != nil {
			p.logger.Error().Err(err).Str("pair", addr).Msg("Failed to load pair")
			continue
		}
		if pair != nil {
			pairs = append(pairs, pair)
		}
	}
	if len(pairs) == 0 {
		return
	}

	ts := time.Now().UTC().Unix()
	for _, pair := range pairs {
		p.publish(ctx, pairChannel(pair.ID), map[string]any{
			"type":         "pair.update",
			"block_number": currentBlock,
			"ts":           ts,
			"pair":         pair,
		})
	}

	p.publish(ctx, pairsChannel, map[string]any{
		"type":         "pair.batch",
		"block_number": currentBlock,
		"ts":           ts,
		"items":        pairs,
	})

	p.logger.Debug().
		Int("count", len(pairs)).
		Uint64("block", currentBlock).
		Msg("Published pair updates")
}

func (p *Publisher) publish(ctx context.Context, channel string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn().Err(err).Str("channel", channel).Msg("Failed to marshal payload")
		return
	}
	if _, err := p.broker.Publish(ctx, channel, data); err != nil {
		p.logger.Warn().Err(err).Str("channel", channel).Msg("Failed to publish")
	}
}

func (p *Publisher) Close() error {
	p.logger.Info().Msg("Closing publisher")
	p.cancel()
	p.wg.Wait()
	return nil
}
