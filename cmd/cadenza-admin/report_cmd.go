package main

import (
	"time"

	"github.com/spf13/cobra"
)

type invalidationSummaryRow struct {
	Kind        string  `db:"kind" json:"kind"`
	Events      int64   `db:"events" json:"events"`
	KeysEvicted int64   `db:"keys_evicted" json:"keys_evicted"`
	AvgMS       float64 `db:"avg_ms" json:"avg_ms"`
	MaxMS       int64   `db:"max_ms" json:"max_ms"`
}

type reportOutput struct {
	Since   string                   `json:"since"`
	Summary []invalidationSummaryRow `json:"summary"`
}

// newReportCmd summarizes the append-only invalidation audit log.
func newReportCmd() *cobra.Command {
	var sinceHours int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize cache invalidation activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := connectSqlx()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			since := time.Now().UTC().Add(-time.Duration(sinceHours) * time.Hour)
			var rows []invalidationSummaryRow
			if err := db.SelectContext(cmd.Context(), &rows, `
SELECT
	kind,
	COUNT(*) AS events,
	COALESCE(SUM(keys_evicted), 0) AS keys_evicted,
	COALESCE(AVG(duration_ms), 0) AS avg_ms,
	COALESCE(MAX(duration_ms), 0) AS max_ms
FROM invalidation_events
WHERE occurred_at >= $1
GROUP BY kind
ORDER BY events DESC
`, since); err != nil {
				return err
			}
			return writeJSON(reportOutput{
				Since:   since.Format(time.RFC3339),
				Summary: rows,
			})
		},
	}
	cmd.Flags().IntVar(&sinceHours, "since-hours", 24, "look-back window in hours")
	return cmd
}
