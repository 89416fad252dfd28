package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"

	"findsimilar/analyzer"
	"findsimilar/config"
	"findsimilar/fingerprint"
	"findsimilar/scms"
)

// Checks that fingerprinting and model extraction are deterministic
func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run main.go <path-to-audio-file> [config.yaml]")
	}

	testFile := os.Args[1]
	configPath := ""
	if len(os.Args) > 2 {
		configPath = os.Args[2]
	}
	log.Printf("Testing determinism with: %s\n", testFile)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg, err = config.FromEnv(cfg); err != nil {
		log.Fatalf("Failed to read environment: %v", err)
	}

	ctx := context.Background()
	const numRuns = 5
	var fingerprintRuns [][]fingerprint.Fingerprint
	var modelRuns []*scms.Model

	for i := 0; i < numRuns; i++ {
		// a fresh analyzer per run, so nothing is shared between runs
		a, err := analyzer.New(cfg)
		if err != nil {
			log.Fatalf("Run %d failed: %v", i+1, err)
		}
		analysis, err := a.Analyze(ctx, testFile, a.DatabaseStride())
		if err != nil {
			log.Fatalf("Run %d failed: %v", i+1, err)
		}
		fingerprintRuns = append(fingerprintRuns, analysis.Fingerprints)
		modelRuns = append(modelRuns, analysis.Model)
		log.Printf("Run %d: %d fingerprints in %s", i+1, len(analysis.Fingerprints), analysis.Elapsed)
	}

	fmt.Println("\n=== Fingerprint Determinism ===")
	allIdentical := true
	for i := 1; i < numRuns; i++ {
		if diff := compareFingerprints(fingerprintRuns[0], fingerprintRuns[i]); diff != "" {
			allIdentical = false
			fmt.Printf("❌ Run 1 and run %d differ: %s\n", i+1, diff)
		}
	}
	if allIdentical {
		fmt.Println("✅ All runs produced IDENTICAL fingerprints (deterministic)")
	}

	fmt.Println("\n=== Model Determinism ===")
	if modelRuns[0] == nil {
		fmt.Println("⚠️  No model could be built for this file (silent or too short)")
		return
	}

	maxDiff := 0.0
	for i := 1; i < numRuns; i++ {
		if modelRuns[i] == nil {
			log.Fatalf("Run %d built no model while run 1 did", i+1)
		}
		a, b := modelRuns[0].Flatten(), modelRuns[i].Flatten()
		for j := range a {
			if diff := math.Abs(a[j] - b[j]); diff > maxDiff {
				maxDiff = diff
			}
		}
	}
	if maxDiff == 0 {
		fmt.Println("✅ All runs produced IDENTICAL models (deterministic)")
	} else {
		fmt.Printf("❌ Model extraction is NON-DETERMINISTIC (max diff: %e)\n", maxDiff)
	}

	fmt.Println("\n=== Self-Distance ===")
	comparer := scms.NewComparer(modelRuns[0].Dim())
	for _, kind := range []scms.DistanceKind{scms.KullbackLeibler, scms.Cosine} {
		d, err := comparer.Distance(kind, modelRuns[0], modelRuns[1])
		if err != nil {
			fmt.Printf("%-16s error: %v\n", kind, err)
			continue
		}
		fmt.Printf("%-16s %.10f\n", kind, d)
	}
	fmt.Println("Expected: ~0.0 for identical extractions")
}

// compareFingerprints returns a description of the first difference, or "".
func compareFingerprints(a, b []fingerprint.Fingerprint) string {
	if len(a) != len(b) {
		return fmt.Sprintf("fingerprint count %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].AnchorTimeMs != b[i].AnchorTimeMs {
			return fmt.Sprintf("fingerprint %d anchor %dms vs %dms", i, a[i].AnchorTimeMs, b[i].AnchorTimeMs)
		}
		if len(a[i].Keys) != len(b[i].Keys) {
			return fmt.Sprintf("fingerprint %d has %d vs %d keys", i, len(a[i].Keys), len(b[i].Keys))
		}
		for k := range a[i].Keys {
			if a[i].Keys[k] != b[i].Keys[k] {
				return fmt.Sprintf("fingerprint %d key %d: %x vs %x", i, k, a[i].Keys[k], b[i].Keys[k])
			}
		}
	}
	return ""
}
