package entity

// Decimal and counter fields are base-10 integer strings, see package numeric.

// Token is created the first time a pair references it. Metadata is read once.
type Token struct {
	ID                 string `json:"id"`
	Symbol             string `json:"symbol"`
	Name               string `json:"name"`
	Decimals           string `json:"decimals"`
	TotalSupply        string `json:"totalSupply"`
	TradeVolume        string `json:"tradeVolume"`
	TradeVolumeUSD     string `json:"tradeVolumeUSD"`
	UntrackedVolumeUSD string `json:"untrackedVolumeUSD"`
	TxCount            string `json:"txCount"`
	TotalLiquidity     string `json:"totalLiquidity"`
	DerivedBNB         string `json:"derivedBNB"`
}

func (t *Token) EntityID() string { return t.ID }

// Pair is keyed by the pool contract address.
type Pair struct {
	ID                     string `json:"id"`
	Factory                string `json:"factory"`
	Token0                 string `json:"token0"`
	Token1                 string `json:"token1"`
	Reserve0               string `json:"reserve0"`
	Reserve1               string `json:"reserve1"`
	TotalSupply            string `json:"totalSupply"`
	ReserveBNB             string `json:"reserveBNB"`
	ReserveUSD             string `json:"reserveUSD"`
	TrackedReserveBNB      string `json:"trackedReserveBNB"`
	Token0Price            string `json:"token0Price"`
	Token1Price            string `json:"token1Price"`
	VolumeToken0           string `json:"volumeToken0"`
	VolumeToken1           string `json:"volumeToken1"`
	VolumeUSD              string `json:"volumeUSD"`
	UntrackedVolumeUSD     string `json:"untrackedVolumeUSD"`
	TxCount                string `json:"txCount"`
	CreatedAtTimestamp     string `json:"createdAtTimestamp"`
	CreatedAtBlockNumber   string `json:"createdAtBlockNumber"`
	LiquidityProviderCount string `json:"liquidityProviderCount"`
}

func (p *Pair) EntityID() string { return p.ID }

// Factory aggregates every pair deployed by one factory contract.
type Factory struct {
	ID                string `json:"id"`
	PairCount         string `json:"pairCount"`
	TotalVolumeUSD    string `json:"totalVolumeUSD"`
	TotalLiquidityUSD string `json:"totalLiquidityUSD"`
	TotalLiquidityBNB string `json:"totalLiquidityBNB"`
	TxCount           string `json:"txCount"`
}

func (f *Factory) EntityID() string { return f.ID }

// EventsSummary is a singleton holding one counter per event kind.
type EventsSummary struct {
	ID                             string `json:"id"`
	PancakeFactoryPairCreatedCount string `json:"pancakeFactory_PairCreatedCount"`
	PancakePairSwapCount           string `json:"pancakePair_SwapCount"`
	PancakePairSyncCount           string `json:"pancakePair_SyncCount"`
	PancakePairMintCount           string `json:"pancakePair_MintCount"`
	PancakePairBurnCount           string `json:"pancakePair_BurnCount"`
}

func (s *EventsSummary) EntityID() string { return s.ID }

// Block metadata shared by every history record.
type EventBlock struct {
	BlockNumber     string `json:"blockNumber"`
	BlockTimestamp  string `json:"blockTimestamp"`
	TransactionHash string `json:"transactionHash"`
}

type PairCreated struct {
	ID            string `json:"id"`
	Token0        string `json:"token0"`
	Token1        string `json:"token1"`
	Pair          string `json:"pair"`
	PairIndex     string `json:"pairIndex"`
	EventsSummary string `json:"eventsSummary"`
	EventBlock
}

func (r *PairCreated) EntityID() string { return r.ID }

type Sync struct {
	ID       string `json:"id"`
	Pair     string `json:"pair"`
	Reserve0 string `json:"reserve0"`
	Reserve1 string `json:"reserve1"`
	LogIndex string `json:"logIndex"`
	EventBlock
}

func (r *Sync) EntityID() string { return r.ID }

type Mint struct {
	ID        string `json:"id"`
	Pair      string `json:"pair"`
	Sender    string `json:"sender"`
	Amount0   string `json:"amount0"`
	Amount1   string `json:"amount1"`
	LogIndex  string `json:"logIndex"`
	AmountUSD string `json:"amountUSD"`
	EventBlock
}

func (r *Mint) EntityID() string { return r.ID }

type Burn struct {
	ID        string `json:"id"`
	Pair      string `json:"pair"`
	Sender    string `json:"sender"`
	Amount0   string `json:"amount0"`
	Amount1   string `json:"amount1"`
	To        string `json:"to"`
	LogIndex  string `json:"logIndex"`
	AmountUSD string `json:"amountUSD"`
	EventBlock
}

func (r *Burn) EntityID() string { return r.ID }

type Swap struct {
	ID         string `json:"id"`
	Pair       string `json:"pair"`
	Sender     string `json:"sender"`
	Amount0In  string `json:"amount0In"`
	Amount1In  string `json:"amount1In"`
	Amount0Out string `json:"amount0Out"`
	Amount1Out string `json:"amount1Out"`
	To         string `json:"to"`
	LogIndex   string `json:"logIndex"`
	AmountUSD  string `json:"amountUSD"`
	EventBlock
}

func (r *Swap) EntityID() string { return r.ID }
