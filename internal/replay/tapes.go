// Package replay drives one (instrument, day) order book from its four
// tapes and optionally samples snapshots along the way.
package replay

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"lobreplay/internal/engine"
)

// Tapes is the seam to the out-of-scope CSV→columnar preprocessing
// collaborator (spec §1 "Out of scope"): a driver only needs these four
// accessors, whatever parses the raw exchange files into them.
type Tapes interface {
	History() []engine.Message
	Orders() []engine.Message
	Exits() []engine.ExitRecord
	Trades() []engine.TradeRecord
}

// CSVTapeSource is a Tapes implementation good enough to replay the literal
// example rows in spec §8 (S1–S3) from plain CSV files, without
// reimplementing the real columnar preprocessing pipeline.
type CSVTapeSource struct {
	history []engine.Message
	orders  []engine.Message
	exits   []engine.ExitRecord
	trades  []engine.TradeRecord
}

func (s *CSVTapeSource) History() []engine.Message    { return s.history }
func (s *CSVTapeSource) Orders() []engine.Message      { return s.orders }
func (s *CSVTapeSource) Exits() []engine.ExitRecord     { return s.exits }
func (s *CSVTapeSource) Trades() []engine.TradeRecord   { return s.trades }

// LoadCSVTapeSource reads the four named CSV files (empty path skips that
// tape) into a CSVTapeSource. Each file's header row names its columns;
// order is not significant.
func LoadCSVTapeSource(historyPath, ordersPath, exitsPath, tradesPath string) (*CSVTapeSource, error) {
	s := &CSVTapeSource{}
	var err error

	if historyPath != "" {
		if s.history, err = readMessages(historyPath); err != nil {
			return nil, fmt.Errorf("replay: history tape: %w", err)
		}
	}
	if ordersPath != "" {
		if s.orders, err = readMessages(ordersPath); err != nil {
			return nil, fmt.Errorf("replay: orders tape: %w", err)
		}
	}
	if exitsPath != "" {
		if s.exits, err = readExits(exitsPath); err != nil {
			return nil, fmt.Errorf("replay: exits tape: %w", err)
		}
	}
	if tradesPath != "" {
		if s.trades, err = readTrades(tradesPath); err != nil {
			return nil, fmt.Errorf("replay: trades tape: %w", err)
		}
	}
	return s, nil
}

func openCSV(path string) (*csv.Reader, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	r := csv.NewReader(f)
	r.ReuseRecord = true
	return r, f, nil
}

func readHeader(r *csv.Reader) (map[string]int, error) {
	row, err := r.Read()
	if err != nil {
		return nil, err
	}
	idx := make(map[string]int, len(row))
	for i, name := range row {
		idx[name] = i
	}
	return idx, nil
}

func readMessages(path string) ([]engine.Message, error) {
	r, f, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	idx, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	var out []engine.Message
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		msg, err := parseMessage(row, idx)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func parseMessage(row []string, idx map[string]int) (engine.Message, error) {
	get := func(col string) string {
		if i, ok := idx[col]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	fid, err := strconv.ParseInt(get("fid"), 10, 64)
	if err != nil {
		return engine.Message{}, fmt.Errorf("fid: %w", err)
	}
	tva, err := parseTimestamp(get("tva"))
	if err != nil {
		return engine.Message{}, fmt.Errorf("tva: %w", err)
	}
	tbe, err := parseTimestamp(get("tbe"))
	if err != nil {
		tbe = tva
	}
	price, err := parseDecimal(get("p"))
	if err != nil {
		return engine.Message{}, fmt.Errorf("p: %w", err)
	}
	stopPrice, _ := parseDecimal(get("pstop"))
	qi, _ := strconv.ParseUint(get("qi"), 10, 64)
	qmin, _ := strconv.ParseUint(get("qmin"), 10, 64)
	qd, _ := strconv.ParseUint(get("qd"), 10, 64)
	qn, _ := strconv.ParseUint(get("qn"), 10, 64)

	side := engine.Bid
	if get("side") == "S" {
		side = engine.Ask
	}

	var expiration time.Time
	if raw := get("expiration"); raw != "" {
		expiration, _ = parseTimestamp(raw)
	}

	return engine.Message{
		FID:           fid,
		State:         firstByte(get("state")),
		BookEntryTime: tbe,
		ValidityTime:  tva,
		Side:          side,
		Kind:          engine.Kind(firstByte(get("kind"))),
		Validity:      get("validity"),
		Expiration:    expiration,
		Price:         price,
		StopPrice:     stopPrice,
		InitialQty:    qi,
		MinExecQty:    qmin,
		DisclosedQty:  qd,
		NegotiatedQty: qn,
		Account:       get("account"),
		Member:        engine.ParseMemberClass(get("member")),
	}, nil
}

func readExits(path string) ([]engine.ExitRecord, error) {
	r, f, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	idx, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	var out []engine.ExitRecord
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		get := func(col string) string {
			if i, ok := idx[col]; ok && i < len(row) {
				return row[i]
			}
			return ""
		}
		fid, err := strconv.ParseInt(get("fid"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("fid: %w", err)
		}
		tbr, err := parseTimestamp(get("tbr"))
		if err != nil {
			return nil, fmt.Errorf("tbr: %w", err)
		}
		side := engine.Bid
		if get("side") == "S" {
			side = engine.Ask
		}
		out = append(out, engine.ExitRecord{
			BookReleaseTime: tbr,
			FID:             fid,
			Side:            side,
			State:           firstByte(get("state")),
		})
	}
	return out, nil
}

func readTrades(path string) ([]engine.TradeRecord, error) {
	r, f, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	idx, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	var out []engine.TradeRecord
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		get := func(col string) string {
			if i, ok := idx[col]; ok && i < len(row) {
				return row[i]
			}
			return ""
		}
		bidFID, err := strconv.ParseInt(get("bid_fid"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bid_fid: %w", err)
		}
		askFID, err := strconv.ParseInt(get("ask_fid"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ask_fid: %w", err)
		}
		ts, err := parseTimestamp(get("tdtm_neg"))
		if err != nil {
			return nil, fmt.Errorf("tdtm_neg: %w", err)
		}
		qty, _ := strconv.ParseUint(get("qty"), 10, 64)
		price, err := parseDecimal(get("price"))
		if err != nil {
			return nil, fmt.Errorf("price: %w", err)
		}
		out = append(out, engine.TradeRecord{
			Time:      ts,
			BidFID:    bidFID,
			AskFID:    askFID,
			Qty:       qty,
			Price:     price,
			Aggressor: firstByte(get("agg")),
		})
	}
	return out, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func firstByte(s string) byte {
	if len(s) == 0 {
		return 0
	}
	return s[0]
}
