package cmd

// DefaultBacktestConfigFilename describes the default config filename looked up in the working directory.
const DefaultBacktestConfigFilename = "backtest.json"
