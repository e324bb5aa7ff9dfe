package main

import "fmt"

// printUsage prints the main usage information
func printUsage() {
	fmt.Printf(`%s - Kraken Trade Backfill CLI v%s

USAGE:
    %s <command> [options]

COMMANDS:
    download    Download historical trades for one or more pairs
    trades      Display stored trades for a pair
    charts      Display candles built from stored trades
    pairs       List exchange pairs or pairs with local data
    export      Write stored trades or candles to Parquet
    serve       Start the HTTP API

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Download XBTUSD trades for January 2023
    %s download --pair XBTUSD --start 2023-01-01 --end 2023-02-01

    # Download several pairs up to now with two workers
    %s download --pairs XBTUSD,ETHUSD --start 2024-01-01 --workers 2

    # Show hourly candles for one day as CSV
    %s charts --pair XBTUSD --start 2023-01-01 --end 2023-01-02 --format csv

    # Export trades to Parquet
    %s export --pair XBTUSD --start 2023-01-01 --end 2023-02-01

CONFIGURATION:
    Configuration can be provided via:
    - Config file: %s (YAML or JSON, path overridable with CONFIG_PATH)
    - Environment variables (e.g., STORAGE_TYPE, STORAGE_PATH, LOG_LEVEL)
    - A .env file in the working directory

    Example config file:
    storage:
      type: duckdb
      path: data/trades.db
    exchange:
      rate_limit: 1
      retry_policy:
        max_attempts: 100
        base_delay: 3s
    logging:
      level: info

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, AppName, ConfigFile, AppName)
}

// printCommandHelp prints detailed help for a specific command
func printCommandHelp(command string) {
	switch command {
	case "download":
		fmt.Printf(`%s download - Download historical trades

USAGE:
    %s download [options]

OPTIONS:
    --pair, -p <pairs>        Pair or comma-separated pairs to download
                              Defaults to collector.default_pairs
                              Examples: XBTUSD, ETHUSD

    --start, -s <time>        Start of the range (required)
                              Unix seconds, YYYY-MM-DD or RFC3339

    --end, -e <time>          End of the range (default: now)

    --workers, -w <count>     Pairs downloaded concurrently
                              (default: collector.worker_count)

Trades already stored are kept. A download resumes after the newest
stored trade, so an interrupted run can simply be started again.

EXAMPLES:
    %s download --pair XBTUSD --start 2023-01-01 --end 2023-02-01
    %s download --pairs XBTUSD,ETHUSD --start 1672531200
`, AppName, AppName, AppName, AppName)

	case "trades":
		fmt.Printf(`%s trades - Display stored trades

USAGE:
    %s trades [options]

OPTIONS:
    --pair, -p <pair>         Pair to query (required)
    --start, -s <time>        Start of the range (required)
    --end, -e <time>          End of the range (required)
    --format, -f <format>     Output format: table, json, csv (default: table)
    --limit, -l <count>       Maximum rows in table output (default: all)

EXAMPLES:
    %s trades --pair XBTUSD --start 2023-01-01 --end 2023-01-02 --limit 50
    %s trades --pair XBTUSD --start 2023-01-01 --end 2023-01-02 --format csv
`, AppName, AppName, AppName, AppName)

	case "charts":
		fmt.Printf(`%s charts - Display candles built from stored trades

USAGE:
    %s charts [options]

OPTIONS:
    --pair, -p <pair>         Pair to query (required)
    --start, -s <time>        Start of the range (required)
    --end, -e <time>          End of the range (required)
    --interval, -i <interval> Candle width (default: 1h)
                              Examples: 1m, 15m, 4h, 1d, 1w
    --format, -f <format>     Output format: table, json, csv (default: table)
    --limit, -l <count>       Maximum rows in table output (default: all)

Each candle is stamped with the end of its interval.

EXAMPLES:
    %s charts --pair XBTUSD --start 2023-01-01 --end 2023-01-08 --interval 1d
`, AppName, AppName, AppName)

	case "pairs":
		fmt.Printf(`%s pairs - List pairs

USAGE:
    %s pairs [options]

OPTIONS:
    --local                   List pairs with stored trades instead of
                              querying the exchange
    --format, -f <format>     Output format: table, json (default: table)

EXAMPLES:
    %s pairs
    %s pairs --local --format json
`, AppName, AppName, AppName, AppName)

	case "export":
		fmt.Printf(`%s export - Write stored data to Parquet

USAGE:
    %s export [options]

OPTIONS:
    --pair, -p <pair>         Pair to export (required)
    --start, -s <time>        Start of the range (required)
    --end, -e <time>          End of the range (required)
    --kind, -k <kind>         trades or candles (default: trades)
    --interval, -i <interval> Candle width for --kind candles (default: 1h)

Files go to export.dir, or to export.s3.bucket when export.s3.enabled
is set.

EXAMPLES:
    %s export --pair XBTUSD --start 2023-01-01 --end 2023-02-01
    %s export --pair XBTUSD --start 2023-01-01 --end 2023-02-01 --kind candles --interval 1d
`, AppName, AppName, AppName, AppName)

	case "serve":
		fmt.Printf(`%s serve - Start the HTTP API

USAGE:
    %s serve [options]

OPTIONS:
    --addr, -a <addr>         Listen address (default: api.addr)

ENDPOINTS:
    GET  /health              Exchange and store health
    GET  /metrics             Metrics snapshot
    GET  /pairs               Exchange pairs
    GET  /pairs/local         Pairs with stored trades
    GET  /trades/:pair        Stored trades (start, end, limit)
    GET  /charts/:pair        Candles (start, end, interval)
    POST /downloads           Start a background download
    GET  /downloads           List download runs
    GET  /downloads/:id       Download run progress
    POST /exports             Write a Parquet export

EXAMPLES:
    %s serve --addr :8080
`, AppName, AppName, AppName)

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
	}
}
