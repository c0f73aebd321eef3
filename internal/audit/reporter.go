package audit

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Reporter writes an audit report to disk or a stream.
type Reporter struct {
	report     *Report
	outputPath string
}

// NewReporter writes report under outputPath.
func NewReporter(report *Report, outputPath string) *Reporter {
	return &Reporter{
		report:     report,
		outputPath: outputPath,
	}
}

// GenerateReport writes the summary, the subgroup precision table and the
// JSON report into the output directory.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}
	if err := r.generatePrecisionTable(); err != nil {
		return err
	}
	return r.generateJSONReport()
}

func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, "audit_summary.txt")
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	if err := r.WriteSummary(file); err != nil {
		return err
	}

	log.Info().Str("file", summaryPath).Msg("Summary report generated")
	return nil
}

// WriteSummary writes a human-readable summary to w.
func (r *Reporter) WriteSummary(w io.Writer) error {
	rep := r.report
	ew := &errWriter{w: w}

	ew.printf("PRECISION AUDIT SUMMARY\n")
	ew.printf("=======================\n\n")
	ew.printf("Generated: %s\n", rep.GeneratedAt.Format("2006-01-02 15:04:05"))
	ew.printf("Samples: %d (%d audited)\n", rep.Samples, rep.Audited)
	ew.printf("Minimum sample: %d\n", rep.Policy.MinSample)
	ew.printf("Excluded genders: %v\n\n", rep.Policy.ExcludedGenders)

	ew.printf("DISCREPANCIES\n")
	ew.printf("-------------\n")
	ew.printf("Across stations: %s\n", rep.AcrossStation)
	ew.printf("Across subgroups: %s\n", rep.AcrossSubgroup)
	ew.printf("Max within station: %s\n", rep.MaxWithinStation)

	if len(rep.WithinStation) > 0 {
		ew.printf("\nWITHIN STATION\n")
		ew.printf("--------------\n")
		for _, s := range rep.WithinStation {
			ew.printf("%s: %s (%d defined subgroups)\n", s.Station, s.Discrepancy, s.DefinedSubgroups)
		}
	}

	if len(rep.Stations) > 0 {
		ew.printf("\nPRECISION BY STATION\n")
		ew.printf("--------------------\n")
		for _, s := range rep.Stations {
			ew.printf("%s: %s over %d searches\n", s.Key(), s.Precision, s.Count)
		}
	}

	return ew.err
}

func (r *Reporter) generatePrecisionTable() error {
	csvPath := filepath.Join(r.outputPath, "subgroup_precision.csv")
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create precision table: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"Station", "Ethnicity", "Gender", "Count", "TP", "FP", "Precision"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, st := range r.report.WithinStation {
		for _, sg := range st.Subgroups {
			precision := ""
			if sg.Precision.Defined {
				precision = strconv.FormatFloat(sg.Precision.Value, 'f', 4, 64)
			}
			record := []string{
				st.Station,
				sg.Values[0],
				sg.Values[1],
				strconv.Itoa(sg.Count),
				strconv.Itoa(sg.TruePositives),
				strconv.Itoa(sg.FalsePositives),
				precision,
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to write precision table: %w", err)
	}

	log.Info().Str("file", csvPath).Msg("Precision table generated")
	return nil
}

func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, "audit_report.json")

	data, err := json.MarshalIndent(r.report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
