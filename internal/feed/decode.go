// Package feed adapts prediction and result sources to the domain
// interfaces. Every source decodes its payloads through DecodePrediction so
// the validator sees one record shape regardless of transport.
package feed

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// predictionPayload is the wire form of a prediction. Optional numbers are
// pointers so an absent field stays distinguishable from zero.
type predictionPayload struct {
	ID               string          `json:"id"`
	Sport            string          `json:"sport"`
	GameID           string          `json:"game_id"`
	HomeTeam         string          `json:"home_team"`
	AwayTeam         string          `json:"away_team"`
	StartTime        string          `json:"start_time"`
	WagerType        string          `json:"wager_type"`
	Selection        string          `json:"selection"`
	Line             *float64        `json:"line"`
	Price            json.RawMessage `json:"price_american"`
	ModelProbability *float64        `json:"model_probability"`
	Edge             *float64        `json:"edge"`
	Confidence       *float64        `json:"confidence"`
	Live             bool            `json:"live"`
	Source           string          `json:"source"`
}

// wagerTypeAliases maps market keys used by odds providers onto wager types.
var wagerTypeAliases = map[string]domain.WagerType{
	"moneyline": domain.WagerTypeMoneyline,
	"h2h":       domain.WagerTypeMoneyline,
	"ml":        domain.WagerTypeMoneyline,
	"spread":    domain.WagerTypeSpread,
	"spreads":   domain.WagerTypeSpread,
	"total":     domain.WagerTypeTotal,
	"totals":    domain.WagerTypeTotal,
}

// DecodePrediction decodes one JSON prediction. Only malformed JSON is an
// error. Fields that are missing or unparseable are left at their zero value
// for the validator to reject; nothing is filled in.
func DecodePrediction(raw []byte) (domain.PredictionRecord, error) {
	var p predictionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.PredictionRecord{}, fmt.Errorf("feed: decode prediction: %w", err)
	}

	rec := domain.PredictionRecord{
		ID:               strings.TrimSpace(p.ID),
		Sport:            strings.TrimSpace(p.Sport),
		GameID:           strings.TrimSpace(p.GameID),
		HomeTeam:         strings.TrimSpace(p.HomeTeam),
		AwayTeam:         strings.TrimSpace(p.AwayTeam),
		StartTime:        parseTime(p.StartTime),
		WagerType:        parseWagerType(p.WagerType),
		Selection:        strings.TrimSpace(p.Selection),
		Line:             p.Line,
		PriceAmerican:    parsePrice(p.Price),
		ModelProbability: p.ModelProbability,
		Edge:             p.Edge,
		Confidence:       p.Confidence,
		Live:             p.Live,
		Source:           p.Source,
	}
	return rec, nil
}

func parseWagerType(s string) domain.WagerType {
	key := strings.ToLower(strings.TrimSpace(s))
	if wt, ok := wagerTypeAliases[key]; ok {
		return wt
	}
	return domain.WagerType(key)
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// parsePrice accepts a JSON number or a string such as "+150" or "-110".
func parsePrice(raw json.RawMessage) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(math.Round(f))
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	s = strings.TrimPrefix(strings.TrimSpace(s), "+")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// DecodeResult decodes one JSON game result.
func DecodeResult(raw []byte) (domain.GameResult, error) {
	var r domain.GameResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return domain.GameResult{}, fmt.Errorf("feed: decode result: %w", err)
	}
	if r.GameID == "" {
		return domain.GameResult{}, fmt.Errorf("feed: decode result: missing game_id")
	}
	return r, nil
}

// decodeLines decodes newline-delimited predictions from r. Blank lines are
// skipped; undecodable lines are counted and skipped.
func decodeLines(r io.Reader) ([]domain.PredictionRecord, int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		out []domain.PredictionRecord
		bad int
	)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, err := DecodePrediction(line)
		if err != nil {
			bad++
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, bad, fmt.Errorf("feed: scan: %w", err)
	}
	return out, bad, nil
}

// inWindow reports whether the record's start time is in [from, to). Records
// with no start time are kept so the validator can reject them visibly.
func inWindow(rec domain.PredictionRecord, from, to time.Time) bool {
	if rec.StartTime.IsZero() {
		return true
	}
	return !rec.StartTime.Before(from) && rec.StartTime.Before(to)
}

func filterWindow(recs []domain.PredictionRecord, from, to time.Time) []domain.PredictionRecord {
	out := make([]domain.PredictionRecord, 0, len(recs))
	for _, r := range recs {
		if inWindow(r, from, to) {
			out = append(out, r)
		}
	}
	return out
}
