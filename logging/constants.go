package logging

// These constants are used to identify the various services that may do some logging
const (
	// FETCHER_SERVICE is the constant used to identify the transaction fetcher package
	FETCHER_SERVICE = "fetcher"
	// BACKTESTING_SERVICE is the constant used to identify the backtesting package
	BACKTESTING_SERVICE = "backtesting"
	// CHAIN_SERVICE is the constant used to identify the chain/RPC packages
	CHAIN_SERVICE = "chain"
	// CLI_SERVICE is the constant used to identify the cmd package
	CLI_SERVICE = "cli"
)
