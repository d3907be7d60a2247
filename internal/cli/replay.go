package cli

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"officer-vitals/internal/engine"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var replayFile string

func init() {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a CSV of readings through the engine and print each decision",
		Long: "Reads subject_id,heart_rate,timestamp rows (RFC3339 timestamps, optional header) " +
			"and prints one JSON decision per line. Nothing is persisted.",
		Run: runReplay,
	}
	cmd.Flags().StringVar(&replayFile, "file", "", "CSV file to replay (- for stdin)")
	cmd.MarkFlagRequired("file")

	RootCmd.AddCommand(cmd)
}

// Decision is the replay output line for one reading.
type Decision struct {
	Line           int       `json:"line"`
	SubjectID      string    `json:"subject_id"`
	Timestamp      time.Time `json:"timestamp"`
	HeartRate      float64   `json:"heart_rate"`
	Pattern        string    `json:"pattern"`
	Severity       string    `json:"severity"`
	StressScore    float64   `json:"stress_score"`
	Relevant       bool      `json:"relevant"`
	Alert          string    `json:"alert"`
	AlertID        string    `json:"alert_id,omitempty"`
	AlertType      string    `json:"alert_type,omitempty"`
	PatternsEnded  int       `json:"patterns_ended,omitempty"`
	Recommendation string    `json:"recommendation"`
	Suppressed     bool      `json:"suppressed,omitempty"`
	Degraded       bool      `json:"degraded,omitempty"`
	Error          string    `json:"error,omitempty"`
}

func runReplay(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	e, err := buildEngine(cfg, zap.NewNop())
	if err != nil {
		exitErr("build engine", err)
	}

	in := io.Reader(os.Stdin)
	if replayFile != "-" {
		f, err := os.Open(replayFile)
		if err != nil {
			exitErr("open replay file", err)
		}
		defer f.Close()
		in = f
	}

	stats, err := Replay(e, in, cmd.OutOrStdout())
	if err != nil {
		exitErr("replay", err)
	}
	b, _ := json.Marshal(stats)
	fmt.Fprintln(cmd.ErrOrStderr(), string(b))
}

// Replay feeds every CSV row through e in file order and writes one JSON
// Decision per row to out. Malformed or rejected rows are reported inline.
func Replay(e *engine.Engine, in io.Reader, out io.Writer) (engine.Stats, error) {
	r := csv.NewReader(in)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	enc := json.NewEncoder(out)

	line := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return e.Stats(), fmt.Errorf("line %d: %w", line, err)
		}
		if line == 1 && isHeader(record) {
			continue
		}

		d := replayRow(e, record)
		d.Line = line
		if err := enc.Encode(d); err != nil {
			return e.Stats(), err
		}
	}
	return e.Stats(), nil
}

func isHeader(record []string) bool {
	if len(record) < 2 {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	return err != nil
}

func replayRow(e *engine.Engine, record []string) Decision {
	if len(record) < 2 {
		return Decision{Error: "want subject_id,heart_rate[,timestamp]"}
	}
	d := Decision{SubjectID: strings.TrimSpace(record[0])}

	hr, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	if err != nil {
		d.Error = fmt.Sprintf("heart_rate: %v", err)
		return d
	}
	d.HeartRate = hr

	var ts time.Time
	if len(record) > 2 && strings.TrimSpace(record[2]) != "" {
		if ts, err = time.Parse(time.RFC3339, strings.TrimSpace(record[2])); err != nil {
			d.Error = fmt.Sprintf("timestamp: %v", err)
			return d
		}
	}

	res, err := e.Process(d.SubjectID, hr, ts)
	if err != nil {
		d.Error = err.Error()
		return d
	}

	a := res.Assessment
	d.Timestamp = res.Reading.Timestamp
	d.Pattern = string(a.PatternType)
	d.Severity = a.Severity.String()
	d.StressScore = a.StressScore
	d.Relevant = res.Relevant
	d.Degraded = a.Degraded
	d.Alert = res.Alert.Action.String()
	if res.Alert.Alert != nil {
		d.AlertID = res.Alert.Alert.ID
		d.AlertType = string(res.Alert.Alert.AlertType)
	}
	d.PatternsEnded = len(res.EndedAlerts)
	d.Recommendation = res.Recommendation.Action.String()
	d.Suppressed = res.Recommendation.Suppressed
	return d
}
