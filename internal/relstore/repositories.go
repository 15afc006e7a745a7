package relstore

// Repositories aggregates every repository behind a single constructor.
type Repositories struct {
	Transactions *TransactionRepository
	Mempool      *MempoolRepository
	TxIndex      *TxIndexRepository
	Blocks       *BlockRepository
	Balances     *BalanceRepository
	Evidence     *EvidenceRepository
	Validators   *ValidatorRepository
	Rewards      *RewardRepository
	Metrics      *MetricsRepository
	Anchors      *AnchorRepository
}

// NewRepositories builds every repository against client's pool.
func NewRepositories(client *Client) *Repositories {
	db := client.DB()
	return &Repositories{
		Transactions: NewTransactionRepository(db),
		Mempool:      NewMempoolRepository(db),
		TxIndex:      NewTxIndexRepository(db),
		Blocks:       NewBlockRepository(db),
		Balances:     NewBalanceRepository(db),
		Evidence:     NewEvidenceRepository(db),
		Validators:   NewValidatorRepository(db),
		Rewards:      NewRewardRepository(db),
		Metrics:      NewMetricsRepository(db),
		Anchors:      NewAnchorRepository(db),
	}
}
