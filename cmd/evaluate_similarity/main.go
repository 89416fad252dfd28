package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"findsimilar/analyzer"
	"findsimilar/config"
	"findsimilar/scms"
	"findsimilar/similar"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// EvaluationConfig holds evaluation parameters
type EvaluationConfig struct {
	ConfigPath string
	DataDir    string
	K          int
	Distances  []string
	ReportPath string
	Verbose    bool
}

// ClassMetrics tracks per-class performance
type ClassMetrics struct {
	ClassName     string
	TotalSamples  int
	CorrectCount  int
	Accuracy      float64
	AvgAgreement  float64
	AgreementStd  float64
	Misclassified []MisclassificationInfo
}

// MisclassificationInfo stores details of incorrect predictions
type MisclassificationInfo struct {
	Filename       string
	TrueLabel      string
	PredictedLabel string
	Agreement      float64
}

// KindReport holds leave-one-out results for one distance kind.
type KindReport struct {
	Distance        string
	TotalSamples    int
	CorrectCount    int
	OverallAccuracy float64
	ClassMetrics    []ClassMetrics
	ConfusionMatrix map[string]map[string]int
}

// EvaluationReport contains comprehensive evaluation results
type EvaluationReport struct {
	Timestamp      time.Time
	DataDir        string
	K              int
	ModelCount     int
	Skipped        []string
	Kinds          []KindReport
	ProcessingTime time.Duration
}

type sample struct {
	path  string
	label string
	model *scms.Model
}

var evalConfig EvaluationConfig

var rootCmd = &cobra.Command{
	Use:   "evaluate_similarity",
	Short: "Leave-one-out nearest neighbour evaluation of similarity models",
	Long: "Every subdirectory of the data directory is a class. Each file is classified by " +
		"majority vote of its k nearest neighbours among all other files, once per distance kind.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), evalConfig)
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&evalConfig.ConfigPath, "config", "", "YAML configuration file")
	flags.StringVar(&evalConfig.DataDir, "data-dir", "evaluation-data", "Directory with one subdirectory per class")
	flags.IntVar(&evalConfig.K, "k", 5, "Number of nearest neighbors")
	flags.StringSliceVar(&evalConfig.Distances, "distance", nil, "Distance kinds to evaluate (default all)")
	flags.StringVar(&evalConfig.ReportPath, "report", "evaluation_report.json", "Path to save evaluation report (empty to skip)")
	flags.BoolVar(&evalConfig.Verbose, "verbose", false, "Enable verbose logging")
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("ERROR: %v", err)
	}
}

func run(ctx context.Context, evalCfg EvaluationConfig) error {
	cfg, err := config.Load(evalCfg.ConfigPath)
	if err != nil {
		return err
	}
	if cfg, err = config.FromEnv(cfg); err != nil {
		return err
	}
	a, err := analyzer.New(cfg)
	if err != nil {
		return err
	}

	kinds, err := selectKinds(evalCfg.Distances)
	if err != nil {
		return err
	}

	log.Println("=== Similarity Model Evaluation ===")
	log.Printf("Data: %s\n", evalCfg.DataDir)
	log.Printf("K neighbors: %d\n", evalCfg.K)

	report := EvaluationReport{Timestamp: time.Now(), DataDir: evalCfg.DataDir, K: evalCfg.K}

	subdirs, err := discoverSubdirectories(evalCfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to read evaluation directory: %w", err)
	}
	log.Printf("Found %d classes to evaluate\n", len(subdirs))

	samples, skipped := buildModels(ctx, a, subdirs, evalCfg.Verbose)
	report.ModelCount = len(samples)
	report.Skipped = skipped
	if len(samples) < 2 {
		return fmt.Errorf("need at least two models, built %d", len(samples))
	}
	log.Printf("Built %d models (%d skipped)\n", len(samples), len(skipped))

	for _, kind := range kinds {
		kr, err := evaluateKind(ctx, kind, samples, evalCfg.K, cfg)
		if err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
		report.Kinds = append(report.Kinds, kr)
	}
	report.ProcessingTime = time.Since(report.Timestamp)

	for _, kr := range report.Kinds {
		printKindReport(kr)
	}
	printVerdict(report)

	if evalCfg.ReportPath != "" {
		if err := saveReport(report, evalCfg.ReportPath); err != nil {
			log.Printf("WARNING: Failed to save report: %v\n", err)
		} else {
			log.Printf("Report saved to: %s\n", evalCfg.ReportPath)
		}
	}
	return nil
}

func selectKinds(names []string) ([]scms.DistanceKind, error) {
	if len(names) == 0 {
		return scms.DistanceKinds(), nil
	}
	kinds := make([]scms.DistanceKind, 0, len(names))
	for _, name := range names {
		kind, err := scms.ParseDistanceKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func discoverSubdirectories(rootDir string) ([]string, error) {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, err
	}

	var subdirs []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		subdirs = append(subdirs, filepath.Join(rootDir, entry.Name()))
	}
	return subdirs, nil
}

func collectAudioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".wav", ".mp3", ".flac", ".ogg", ".m4a":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

func inferLabelFromDirectory(dirPath string) string {
	label := strings.ToLower(filepath.Base(dirPath))
	label = strings.ReplaceAll(label, "_", " ")
	label = strings.ReplaceAll(label, "-", " ")
	return strings.TrimSpace(label)
}

// buildModels returns the models in a stable order plus the files that
// could not be modelled.
func buildModels(ctx context.Context, a *analyzer.Analyzer, subdirs []string, verbose bool) ([]sample, []string) {
	var pending []sample
	for _, dir := range subdirs {
		files, err := collectAudioFiles(dir)
		if err != nil {
			log.Printf("WARNING: Failed to read directory %s: %v\n", dir, err)
			continue
		}
		label := inferLabelFromDirectory(dir)
		for _, f := range files {
			pending = append(pending, sample{path: f, label: label})
		}
	}

	var mu sync.Mutex
	var skipped []string
	var g errgroup.Group
	g.SetLimit(4)
	for i := range pending {
		g.Go(func() error {
			model, err := a.Model(ctx, pending[i].path)
			if err != nil {
				if verbose {
					log.Printf("  ERROR processing %s: %v\n", filepath.Base(pending[i].path), err)
				}
				mu.Lock()
				skipped = append(skipped, pending[i].path)
				mu.Unlock()
				return nil
			}
			pending[i].model = model
			return nil
		})
	}
	g.Wait()

	samples := pending[:0]
	for _, s := range pending {
		if s.model != nil {
			samples = append(samples, s)
		}
	}
	sort.Strings(skipped)
	return samples, skipped
}

func evaluateKind(ctx context.Context, kind scms.DistanceKind, samples []sample, k int, cfg config.Config) (KindReport, error) {
	report := KindReport{Distance: kind.String(), ConfusionMatrix: make(map[string]map[string]int)}
	ranker := similar.Ranker{Kind: kind, Workers: cfg.Workers, SignatureBits: cfg.SignatureBits, Seed: cfg.HashSeed}

	candidates := make(map[uint32]*scms.Model, len(samples))
	for i, s := range samples {
		candidates[uint32(i)] = s.model
	}

	byClass := map[string]*ClassMetrics{}
	agreements := map[string][]float64{}
	for i, s := range samples {
		// one extra so the sample itself can be dropped
		ranked, err := ranker.Rank(ctx, s.model, candidates, k+1)
		if err != nil {
			return report, err
		}
		var neighbours []string
		for _, r := range ranked {
			if r.TrackID != uint32(i) && len(neighbours) < k {
				neighbours = append(neighbours, samples[r.TrackID].label)
			}
		}
		predicted, agreement := vote(neighbours)

		m := byClass[s.label]
		if m == nil {
			m = &ClassMetrics{ClassName: s.label}
			byClass[s.label] = m
		}
		m.TotalSamples++
		agreements[s.label] = append(agreements[s.label], agreement)

		if report.ConfusionMatrix[s.label] == nil {
			report.ConfusionMatrix[s.label] = make(map[string]int)
		}
		report.ConfusionMatrix[s.label][predicted]++

		if predicted == s.label {
			m.CorrectCount++
			report.CorrectCount++
		} else {
			m.Misclassified = append(m.Misclassified, MisclassificationInfo{
				Filename:       filepath.Base(s.path),
				TrueLabel:      s.label,
				PredictedLabel: predicted,
				Agreement:      agreement,
			})
		}
		report.TotalSamples++
	}

	for label, m := range byClass {
		m.Accuracy = float64(m.CorrectCount) / float64(m.TotalSamples) * 100
		if values := agreements[label]; len(values) > 1 {
			m.AvgAgreement, m.AgreementStd = stat.MeanStdDev(values, nil)
		} else if len(values) == 1 {
			m.AvgAgreement = values[0]
		}
		report.ClassMetrics = append(report.ClassMetrics, *m)
	}
	sort.Slice(report.ClassMetrics, func(i, j int) bool {
		return report.ClassMetrics[i].ClassName < report.ClassMetrics[j].ClassName
	})
	if report.TotalSamples > 0 {
		report.OverallAccuracy = float64(report.CorrectCount) / float64(report.TotalSamples) * 100
	}
	return report, nil
}

// vote returns the majority label among neighbours, nearest first, and the
// fraction of neighbours that agree with it. Ties go to the label seen first.
func vote(neighbours []string) (string, float64) {
	if len(neighbours) == 0 {
		return "", 0
	}
	counts := map[string]int{}
	best := ""
	for _, label := range neighbours {
		counts[label]++
		if best == "" || counts[label] > counts[best] {
			best = label
		}
	}
	return best, float64(counts[best]) / float64(len(neighbours))
}

func printKindReport(report KindReport) {
	log.Println()
	log.Println("=" + strings.Repeat("=", 79))
	log.Printf("RESULTS: %s\n", report.Distance)
	log.Println("=" + strings.Repeat("=", 79))
	log.Printf("Overall Accuracy: %.2f%% (%d/%d correct)\n",
		report.OverallAccuracy, report.CorrectCount, report.TotalSamples)

	log.Println(strings.Repeat("-", 80))
	log.Printf("%-20s %8s %10s %12s\n", "Class", "Accuracy", "Agreement", "Samples")
	log.Println(strings.Repeat("-", 80))

	sortedMetrics := make([]ClassMetrics, len(report.ClassMetrics))
	copy(sortedMetrics, report.ClassMetrics)
	sort.Slice(sortedMetrics, func(i, j int) bool {
		return sortedMetrics[i].Accuracy > sortedMetrics[j].Accuracy
	})
	for _, m := range sortedMetrics {
		status := "✓"
		if m.Accuracy < 70 {
			status = "⚠"
		}
		log.Printf("%-20s %7.1f%% %9.1f%% %10d   %s\n",
			m.ClassName, m.Accuracy, m.AvgAgreement*100, m.TotalSamples, status)
	}
	log.Println()

	printConfusionMatrix(report.ConfusionMatrix)
}

func printConfusionMatrix(matrix map[string]map[string]int) {
	if len(matrix) == 0 {
		return
	}

	var labels []string
	for label := range matrix {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	fmt.Printf("%-15s", "Actual \\ Pred")
	for _, label := range labels {
		fmt.Printf(" %6s", truncate(label, 6))
	}
	fmt.Println()

	for _, trueLabel := range labels {
		fmt.Printf("%-15s", truncate(trueLabel, 15))
		for _, predLabel := range labels {
			if count := matrix[trueLabel][predLabel]; count > 0 {
				fmt.Printf(" %6d", count)
			} else {
				fmt.Printf(" %6s", ".")
			}
		}
		fmt.Println()
	}
}

func printVerdict(report EvaluationReport) {
	log.Println()
	log.Println("=" + strings.Repeat("=", 79))
	log.Println("VERDICT")
	log.Println("=" + strings.Repeat("=", 79))

	kinds := make([]KindReport, len(report.Kinds))
	copy(kinds, report.Kinds)
	sort.SliceStable(kinds, func(i, j int) bool {
		return kinds[i].OverallAccuracy > kinds[j].OverallAccuracy
	})
	for _, kr := range kinds {
		log.Printf("%-24s %6.2f%%\n", kr.Distance, kr.OverallAccuracy)
	}
	if len(kinds) > 0 {
		log.Printf("Best distance: %s\n", kinds[0].Distance)
	}
	log.Printf("Processing Time: %.2f seconds\n", report.ProcessingTime.Seconds())
}

func saveReport(report EvaluationReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-2] + ".."
}
