package api

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/johnayoung/go-trade-backfill/internal/export"
	"github.com/johnayoung/go-trade-backfill/internal/models"
)

const (
	maxCandles    = 10000
	maxTradeLimit = 100000
)

// DownloadRequest is the body of POST /downloads.
type DownloadRequest struct {
	Pair  string `json:"pair"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// ExportRequest is the body of POST /exports.
type ExportRequest struct {
	Pair     string `json:"pair"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Kind     string `json:"kind"`
	Interval string `json:"interval,omitempty"`
}

// Validator handles validation logic separate from HTTP concerns
type Validator struct {
	pairRegex *regexp.Regexp
}

var (
	validatorInstance *Validator
	validatorOnce     sync.Once
)

// GetValidator returns the singleton validator instance
func GetValidator() *Validator {
	validatorOnce.Do(func() {
		validatorInstance = &Validator{
			pairRegex: regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{1,31}$`),
		}
	})
	return validatorInstance
}

// ValidatePair validates and sanitizes a pair name.
func (v *Validator) ValidatePair(pair string) (string, error) {
	pair = v.sanitizeInput(pair)
	if pair == "" {
		return "", errors.New("pair is required")
	}
	if !v.pairRegex.MatchString(pair) {
		return "", errors.New("pair must be 2-32 characters of letters, digits, dots, hyphens or underscores")
	}
	return pair, nil
}

// ValidateRange parses start and end and checks that end is after start.
func (v *Validator) ValidateRange(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := models.ParseTime(v.sanitizeInput(startStr))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	end, err := models.ParseTime(v.sanitizeInput(endStr))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errors.New("end must be after start")
	}
	return start, end, nil
}

// ValidateChartsRequest validates the parameters of a candle query.
func (v *Validator) ValidateChartsRequest(pair, startStr, endStr, intervalStr string) (string, time.Time, time.Time, time.Duration, error) {
	cleanPair, err := v.ValidatePair(pair)
	if err != nil {
		return "", time.Time{}, time.Time{}, 0, err
	}
	start, end, err := v.ValidateRange(startStr, endStr)
	if err != nil {
		return "", time.Time{}, time.Time{}, 0, err
	}
	interval, err := v.validateInterval(intervalStr)
	if err != nil {
		return "", time.Time{}, time.Time{}, 0, err
	}
	if n := int64(end.Sub(start) / interval); n > maxCandles {
		return "", time.Time{}, time.Time{}, 0, fmt.Errorf("range spans %d candles, the maximum is %d", n, maxCandles)
	}
	return cleanPair, start, end, interval, nil
}

// ValidateDownloadRequest validates a download body.
func (v *Validator) ValidateDownloadRequest(req DownloadRequest) (string, time.Time, time.Time, error) {
	pair, err := v.ValidatePair(req.Pair)
	if err != nil {
		return "", time.Time{}, time.Time{}, err
	}
	start, end, err := v.ValidateRange(req.Start, req.End)
	if err != nil {
		return "", time.Time{}, time.Time{}, err
	}
	return pair, start, end, nil
}

// ValidateExportRequest validates an export body. The interval is only
// parsed for candle exports.
func (v *Validator) ValidateExportRequest(req ExportRequest) (string, time.Time, time.Time, time.Duration, error) {
	kind := strings.ToLower(v.sanitizeInput(req.Kind))
	switch kind {
	case "", export.KindTrades:
		pair, start, end, err := v.ValidateDownloadRequest(DownloadRequest{Pair: req.Pair, Start: req.Start, End: req.End})
		return pair, start, end, 0, err
	case export.KindCandles:
		return v.ValidateChartsRequest(req.Pair, req.Start, req.End, req.Interval)
	default:
		return "", time.Time{}, time.Time{}, 0, fmt.Errorf("invalid kind '%s'. Supported values: trades, candles", req.Kind)
	}
}

// ValidateLimit parses an optional row limit; zero means no limit.
func (v *Validator) ValidateLimit(limitStr string) (int, error) {
	limitStr = v.sanitizeInput(limitStr)
	if limitStr == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, errors.New("limit must be a valid number")
	}
	if limit < 0 || limit > maxTradeLimit {
		return 0, fmt.Errorf("limit must be between 0 and %d (0 means no limit)", maxTradeLimit)
	}
	return limit, nil
}

func (v *Validator) validateInterval(interval string) (time.Duration, error) {
	interval = v.sanitizeInput(interval)
	if interval == "" {
		interval = DefaultInterval
	}
	d, err := models.ParseInterval(interval)
	if err != nil {
		return 0, err
	}
	return d, nil
}

// sanitizeInput removes control characters and trims whitespace
func (v *Validator) sanitizeInput(input string) string {
	input = strings.TrimSpace(input)
	input = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, input)

	if len(input) > 100 {
		input = input[:100]
	}
	return input
}
