package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ParsedEvent represents a decoded event log
type ParsedEvent struct {
	Log *types.Log

	EventName string
	Address   common.Address

	// Decoded arguments keyed by ABI input name. Unnamed inputs are "argN".
	Args map[string]interface{}

	TransactionHash  common.Hash
	TransactionIndex uint
	BlockNumber      uint64
	BlockHash        common.Hash
	LogIndex         uint
	BlockTimestamp   uint64
}

// AddressArg returns an address argument.
func (e *ParsedEvent) AddressArg(name string) (common.Address, error) {
	v, ok := e.Args[name]
	if !ok {
		return common.Address{}, ErrMissingArgument{Event: e.EventName, Name: name}
	}
	addr, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("argument %s of %s is %T, not an address", name, e.EventName, v)
	}
	return addr, nil
}

// BigIntArg returns an integer argument. Small integer types produced by the
// ABI decoder for uint8..uint64 are widened.
func (e *ParsedEvent) BigIntArg(name string) (*big.Int, error) {
	v, ok := e.Args[name]
	if !ok {
		return nil, ErrMissingArgument{Event: e.EventName, Name: name}
	}
	switch n := v.(type) {
	case *big.Int:
		return n, nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	default:
		return nil, fmt.Errorf("argument %s of %s is %T, not an integer", name, e.EventName, v)
	}
}

// EventParser handles parsing of event logs using ABI definitions
type EventParser struct {
	events map[common.Hash]abi.Event // topic0 -> event
}

// NewEventParser creates a new event parser
func NewEventParser() *EventParser {
	return &EventParser{
		events: make(map[common.Hash]abi.Event),
	}
}

// AddABI indexes every event of the ABI by its topic hash
func (p *EventParser) AddABI(contractABI *abi.ABI) {
	for _, event := range contractABI.Events {
		p.events[event.ID] = event
	}
}

// Knows reports whether topic0 belongs to a registered event
func (p *EventParser) Knows(topic common.Hash) bool {
	_, ok := p.events[topic]
	return ok
}

// ParseEvent parses a log into a ParsedEvent
func (p *EventParser) ParseEvent(log *types.Log) (*ParsedEvent, error) {
	if len(log.Topics) == 0 {
		return nil, ErrInvalidEvent{Reason: "no topics in log"}
	}

	eventABI, exists := p.events[log.Topics[0]]
	if !exists {
		return nil, ErrUnknownEvent{Topic: log.Topics[0].Hex()}
	}

	args := make(map[string]interface{})

	// Indexed parameters live in topics[1:]
	topicIndex := 1
	for _, input := range eventABI.Inputs {
		if !input.Indexed {
			continue
		}
		if topicIndex >= len(log.Topics) {
			return nil, ErrInvalidEvent{Reason: fmt.Sprintf("%s expects indexed %s in topic %d, log has %d topics",
				eventABI.Name, input.Name, topicIndex, len(log.Topics))}
		}
		args[input.Name] = p.parseIndexedArg(log.Topics[topicIndex], input.Type)
		topicIndex++
	}

	nonIndexed := eventABI.Inputs.NonIndexed()
	if len(nonIndexed) > 0 {
		values, err := nonIndexed.Unpack(log.Data)
		if err != nil {
			return nil, ErrEventParsing{Event: eventABI.Name, Err: err}
		}
		for i, input := range nonIndexed {
			if i < len(values) {
				args[input.Name] = values[i]
			}
		}
	}

	return &ParsedEvent{
		Log:              log,
		EventName:        eventABI.Name,
		Address:          log.Address,
		Args:             args,
		TransactionHash:  log.TxHash,
		TransactionIndex: log.TxIndex,
		BlockNumber:      log.BlockNumber,
		BlockHash:        log.BlockHash,
		LogIndex:         log.Index,
	}, nil
}

// parseIndexedArg converts a topic hash to the appropriate Go type
func (p *EventParser) parseIndexedArg(topic common.Hash, argType abi.Type) interface{} {
	switch argType.T {
	case abi.AddressTy:
		return common.BytesToAddress(topic.Bytes())
	case abi.IntTy, abi.UintTy:
		return new(big.Int).SetBytes(topic.Bytes())
	case abi.BoolTy:
		return topic.Big().Sign() != 0
	case abi.FixedBytesTy:
		return topic.Bytes()
	default:
		// Dynamic types are indexed by their hash
		return topic.Hex()
	}
}

// Error types
type ErrInvalidEvent struct {
	Reason string
}

func (e ErrInvalidEvent) Error() string {
	return "invalid event: " + e.Reason
}

type ErrUnknownEvent struct {
	Topic string
}

func (e ErrUnknownEvent) Error() string {
	return "unknown event topic: " + e.Topic
}

type ErrEventParsing struct {
	Event string
	Err   error
}

func (e ErrEventParsing) Error() string {
	return "failed to parse event " + e.Event + ": " + e.Err.Error()
}

func (e ErrEventParsing) Unwrap() error {
	return e.Err
}

type ErrMissingArgument struct {
	Event string
	Name  string
}

func (e ErrMissingArgument) Error() string {
	return "event " + e.Event + " has no argument " + e.Name
}
