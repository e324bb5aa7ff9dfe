package main

import (
	"fmt"
	"strconv"
	"strings"
)

// usageError is returned for invalid command lines.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// Flag structures for parsing command line arguments

// DownloadFlags represents flags for the download command
type DownloadFlags struct {
	Pairs   []string
	Start   string
	End     string
	Workers int
}

// QueryFlags represents flags for the trades and charts commands
type QueryFlags struct {
	Pair     string
	Start    string
	End      string
	Interval string
	Limit    int
	Format   string
}

// PairsFlags represents flags for the pairs command
type PairsFlags struct {
	Local  bool
	Format string
}

// ExportFlags represents flags for the export command
type ExportFlags struct {
	Pair     string
	Start    string
	End      string
	Interval string
	Kind     string
}

// ServeFlags represents flags for the serve command
type ServeFlags struct {
	Addr string
}

func wantsHelp(args []string) bool {
	for _, a := range args {
		if a == "--help" || a == "-h" {
			return true
		}
	}
	return false
}

// flagValue returns the value following the flag at args[*i] and moves i to it.
func flagValue(args []string, i *int) (string, error) {
	if *i+1 >= len(args) {
		return "", usagef("%s requires a value", args[*i])
	}
	*i++
	return args[*i], nil
}

func flagInt(args []string, i *int) (int, error) {
	name := args[*i]
	v, err := flagValue(args, i)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, usagef("invalid %s value: %s", strings.TrimLeft(name, "-"), v)
	}
	return n, nil
}

func splitPairs(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func validateFormat(format string) error {
	if format != "json" && format != "csv" && format != "table" {
		return usagef("invalid format, must be: json, csv, or table")
	}
	return nil
}

// parseDownloadFlags parses command line arguments for the download command
func parseDownloadFlags(args []string) (*DownloadFlags, error) {
	flags := &DownloadFlags{}

	for i := 0; i < len(args); i++ {
		var err error
		var v string
		switch args[i] {
		case "--pair", "-p", "--pairs":
			if v, err = flagValue(args, &i); err == nil {
				flags.Pairs = append(flags.Pairs, splitPairs(v)...)
			}
		case "--start", "-s":
			flags.Start, err = flagValue(args, &i)
		case "--end", "-e":
			flags.End, err = flagValue(args, &i)
		case "--workers", "-w":
			flags.Workers, err = flagInt(args, &i)
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}

	if flags.Start == "" {
		return nil, usagef("--start is required")
	}
	if flags.Workers < 0 {
		return nil, usagef("--workers must be positive")
	}
	return flags, nil
}

// parseQueryFlags parses command line arguments for the trades and charts commands
func parseQueryFlags(args []string, withInterval bool) (*QueryFlags, error) {
	flags := &QueryFlags{
		Interval: "1h",    // Default interval
		Format:   "table", // Default format
	}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--pair", "-p":
			flags.Pair, err = flagValue(args, &i)
		case "--start", "-s":
			flags.Start, err = flagValue(args, &i)
		case "--end", "-e":
			flags.End, err = flagValue(args, &i)
		case "--limit", "-l":
			flags.Limit, err = flagInt(args, &i)
		case "--format", "-f":
			if flags.Format, err = flagValue(args, &i); err == nil {
				err = validateFormat(flags.Format)
			}
		case "--interval", "-i":
			if !withInterval {
				return nil, usagef("unknown flag: %s", args[i])
			}
			flags.Interval, err = flagValue(args, &i)
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}

	if flags.Pair == "" {
		return nil, usagef("--pair is required")
	}
	if flags.Start == "" || flags.End == "" {
		return nil, usagef("--start and --end are required")
	}
	if flags.Limit < 0 {
		return nil, usagef("--limit must not be negative")
	}
	return flags, nil
}

// parsePairsFlags parses command line arguments for the pairs command
func parsePairsFlags(args []string) (*PairsFlags, error) {
	flags := &PairsFlags{Format: "table"}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--local":
			flags.Local = true
		case "--format", "-f":
			if flags.Format, err = flagValue(args, &i); err == nil {
				err = validateFormat(flags.Format)
			}
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}
	return flags, nil
}

// parseExportFlags parses command line arguments for the export command
func parseExportFlags(args []string) (*ExportFlags, error) {
	flags := &ExportFlags{
		Kind:     "trades",
		Interval: "1h",
	}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--pair", "-p":
			flags.Pair, err = flagValue(args, &i)
		case "--start", "-s":
			flags.Start, err = flagValue(args, &i)
		case "--end", "-e":
			flags.End, err = flagValue(args, &i)
		case "--interval", "-i":
			flags.Interval, err = flagValue(args, &i)
		case "--kind", "-k":
			flags.Kind, err = flagValue(args, &i)
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}

	if flags.Pair == "" {
		return nil, usagef("--pair is required")
	}
	if flags.Start == "" || flags.End == "" {
		return nil, usagef("--start and --end are required")
	}
	if flags.Kind != "trades" && flags.Kind != "candles" {
		return nil, usagef("invalid kind, must be: trades or candles")
	}
	return flags, nil
}

// parseServeFlags parses command line arguments for the serve command
func parseServeFlags(args []string) (*ServeFlags, error) {
	flags := &ServeFlags{}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--addr", "-a":
			flags.Addr, err = flagValue(args, &i)
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}
	return flags, nil
}
