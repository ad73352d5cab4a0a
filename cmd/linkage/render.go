package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"

	"github.com/efebarandurmaz/linkage/internal/classify"
	"github.com/efebarandurmaz/linkage/internal/dataset"
	"github.com/efebarandurmaz/linkage/internal/evaluate"
	"github.com/efebarandurmaz/linkage/internal/explain"
	"github.com/efebarandurmaz/linkage/internal/linkage"
	"github.com/efebarandurmaz/linkage/internal/record"
	"github.com/efebarandurmaz/linkage/internal/store"
	"github.com/efebarandurmaz/linkage/internal/vector"
)

var (
	matchColor   = color.New(color.FgGreen, color.Bold)
	noMatchColor = color.New(color.FgRed, color.Bold)
	dimColor     = color.RGB(150, 150, 150)
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderMarkdown prints md through glamour, or as-is when plain is set or
// rendering fails.
func renderMarkdown(w io.Writer, md string, plain bool) {
	if !plain {
		if out, err := glamour.Render(md, "dark"); err == nil {
			fmt.Fprint(w, out)
			return
		}
	}
	fmt.Fprint(w, md)
}

func confidenceColor(c classify.Confidence) *color.Color {
	switch c {
	case classify.High:
		return color.New(color.FgGreen)
	case classify.Medium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

func renderMatch(w io.Writer, res *linkage.MatchResult, maxFeatures int) {
	p := res.Prediction
	verdict := noMatchColor.Sprint("NO MATCH")
	if p.IsMatch {
		verdict = matchColor.Sprint("MATCH")
	}
	fmt.Fprintf(w, "%s  score %.4f  confidence %s\n", verdict, p.SimilarityScore,
		confidenceColor(p.Confidence).Sprint(p.Confidence))

	if res.Explanation != nil {
		renderExplanation(w, res.Explanation, maxFeatures)
	}
}

func renderExplanation(w io.Writer, exp *explain.Explanation, maxFeatures int) {
	fmt.Fprintln(w, dimColor.Sprintf("explanation (%s)", exp.Method))
	for i, fc := range exp.FeatureContributions {
		if maxFeatures > 0 && i == maxFeatures {
			fmt.Fprintln(w, dimColor.Sprintf("  ... %d more", len(exp.FeatureContributions)-i))
			break
		}
		c := color.New(color.FgGreen)
		if fc.Contribution < 0 {
			c = color.New(color.FgRed)
		}
		fmt.Fprintf(w, "  %-20s %s  %q vs %q\n", fc.FieldName, c.Sprintf("%+.3f", fc.Contribution), fc.ValueA, fc.ValueB)
	}
}

func mdEscape(s string) string {
	return strings.NewReplacer("|", `\|`, "\n", " ").Replace(s)
}

func batchMarkdown(res *linkage.BatchMatchResult, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Batch run %s\n\n", res.RunID)
	fmt.Fprintf(&b, "- Comparisons: **%d**\n", res.TotalComparisons)
	fmt.Fprintf(&b, "- Matches: **%d**\n", res.MatchesFound)
	fmt.Fprintf(&b, "- Processing time: %.3fs\n", res.ProcessingTime)
	if res.Truncated {
		fmt.Fprintf(&b, "- Truncated at %d comparisons\n", linkage.MaxComparisons)
	}
	if len(res.MatchResults) == 0 {
		return b.String()
	}

	b.WriteString("\n| Record A | Record B | Score | Confidence | Top fields |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for i, mr := range res.MatchResults {
		if limit > 0 && i == limit {
			fmt.Fprintf(&b, "\n_%d more matches not shown._\n", len(res.MatchResults)-i)
			break
		}
		top := ""
		if mr.Explanation != nil {
			top = strings.Join(mr.Explanation.TopPositiveFeatures, ", ")
		}
		fmt.Fprintf(&b, "| %s | %s | %.4f | %s | %s |\n",
			mdEscape(record.Serialize(mr.RecordPair.RecordA, nil)),
			mdEscape(record.Serialize(mr.RecordPair.RecordB, nil)),
			mr.Prediction.SimilarityScore, mr.Prediction.Confidence, mdEscape(top))
	}
	return b.String()
}

func reportMarkdown(title string, r *evaluate.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Threshold **%.2f**: %d of %d correct\n\n", r.Threshold, r.Correct, r.Total)
	b.WriteString("| Accuracy | Precision | Recall | F1 |\n|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %.3f | %.3f | %.3f | %.3f |\n\n", r.Accuracy, r.Precision, r.Recall, r.F1)
	fmt.Fprintf(&b, "TP %d, FP %d, TN %d, FN %d\n\n", r.TruePositives, r.FalsePositives, r.TrueNegatives, r.FalseNegatives)

	b.WriteString("| Case | Score | Predicted | Expected | |\n|---|---|---|---|---|\n")
	for _, cr := range r.Results {
		mark := "ok"
		if !cr.Correct {
			mark = "**wrong**"
		}
		fmt.Fprintf(&b, "| %s | %.4f | %t | %t | %s |\n", mdEscape(cr.Name), cr.Score, cr.Predicted, cr.Expected, mark)
	}
	return b.String()
}

func datasetsMarkdown(infos []dataset.Info) string {
	var b strings.Builder
	b.WriteString("# Datasets\n\n| Key | Name | Records | Fields |\n|---|---|---|---|\n")
	for _, in := range infos {
		fmt.Fprintf(&b, "| %s | %s | %d | %s |\n", in.Key, mdEscape(in.Name), in.NumRecords, mdEscape(strings.Join(in.Fields, ", ")))
	}
	return b.String()
}

func datasetMarkdown(in *dataset.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n", in.Name, in.Description)
	fmt.Fprintf(&b, "- Records: **%d**\n- Fields: %s\n", in.NumRecords, strings.Join(in.Fields, ", "))
	if len(in.SampleRecords) > 0 {
		b.WriteString("\n## Samples\n\n")
		for _, r := range in.SampleRecords {
			fmt.Fprintf(&b, "- `%s`\n", strings.ReplaceAll(record.Serialize(r, in.Fields), "`", "'"))
		}
	}
	return b.String()
}

func runsMarkdown(runs []store.Run) string {
	var b strings.Builder
	b.WriteString("# Runs\n\n| ID | Started | Threshold | Comparisons | Matches |\n|---|---|---|---|---|\n")
	for _, r := range runs {
		fmt.Fprintf(&b, "| %s | %s | %.2f | %d | %d |\n", r.ID, r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Threshold, r.TotalComparisons, r.MatchesFound)
	}
	return b.String()
}

func renderCandidates(w io.Writer, cands []vector.Candidate) {
	if len(cands) == 0 {
		fmt.Fprintln(w, dimColor.Sprint("no candidates"))
		return
	}
	for i, c := range cands {
		fmt.Fprintf(w, "%2d. %s  %s\n", i+1, matchColor.Sprintf("%.4f", c.Score), record.Serialize(c.Record, nil))
		if c.Source != "" {
			fmt.Fprintln(w, dimColor.Sprintf("    %s / %s", c.Source, c.Record.ID))
		}
	}
}
