package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"fvgbot/internal/domain"
)

// Summarizes archived order outcomes from the pipeline database: fill
// rates per quality band and state distribution. Input for recalibrating
// the scoring weights.
func main() {
	dbPath := flag.String("db", "./data/fvgbot.db", "path to the pipeline database")
	flag.Parse()

	db, err := sql.Open("sqlite3", *dbPath+"?mode=ro")
	if err != nil {
		log.Fatalf("FATAL: Failed to open database: %v", err)
	}
	defer db.Close()

	outcomes, err := loadOutcomes(db)
	if err != nil {
		log.Fatalf("FATAL: Failed to load outcomes: %v", err)
	}
	if len(outcomes) == 0 {
		log.Println("No archived outcomes found.")
		return
	}

	fmt.Printf("Loaded %d outcomes\n\n", len(outcomes))
	printStateDistribution(outcomes)
	printQualityBands(outcomes)
}

type outcome struct {
	State      domain.OrderState
	Confidence float64
	RiskReward float64
	TimeToFill time.Duration
}

func loadOutcomes(db *sql.DB) ([]outcome, error) {
	rows, err := db.Query(`SELECT state, confidence, risk_reward, time_to_fill_ms FROM order_outcomes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []outcome
	for rows.Next() {
		var o outcome
		var state string
		var ttfMs int64
		if err := rows.Scan(&state, &o.Confidence, &o.RiskReward, &ttfMs); err != nil {
			return nil, err
		}
		o.State = domain.OrderState(state)
		o.TimeToFill = time.Duration(ttfMs) * time.Millisecond
		out = append(out, o)
	}
	return out, rows.Err()
}

func printStateDistribution(outcomes []outcome) {
	counts := make(map[domain.OrderState]int)
	for _, o := range outcomes {
		counts[o.State]++
	}
	states := make([]domain.OrderState, 0, len(counts))
	for state := range counts {
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "State\tCount\tShare\t")
	for _, state := range states {
		fmt.Fprintf(w, "%s\t%d\t%.1f%%\t\n", state, counts[state], 100*float64(counts[state])/float64(len(outcomes)))
	}
	w.Flush()
}

// printQualityBands groups outcomes into confidence deciles and reports
// the fill rate and average time to fill per band.
func printQualityBands(outcomes []outcome) {
	type band struct {
		total  int
		filled int
		sumTTF time.Duration
	}
	bands := make(map[int]*band)
	for _, o := range outcomes {
		idx := int(o.Confidence * 10)
		if idx > 9 {
			idx = 9
		}
		b := bands[idx]
		if b == nil {
			b = &band{}
			bands[idx] = b
		}
		b.total++
		if o.State == domain.OrderFilled {
			b.filled++
			b.sumTTF += o.TimeToFill
		}
	}

	fmt.Println("\n## Fill rate by confidence band")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Band\tOrders\tFilled\tFillRate\tAvgTimeToFill\t")
	for idx := 0; idx < 10; idx++ {
		b := bands[idx]
		if b == nil {
			continue
		}
		avgTTF := time.Duration(0)
		if b.filled > 0 {
			avgTTF = b.sumTTF / time.Duration(b.filled)
		}
		fmt.Fprintf(w, "%.1f-%.1f\t%d\t%d\t%.1f%%\t%s\t\n",
			float64(idx)/10, float64(idx+1)/10, b.total, b.filled,
			100*float64(b.filled)/float64(b.total), avgTTF.Round(time.Second))
	}
	w.Flush()
}
