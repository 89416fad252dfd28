package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"findsimilar/fingerprint"
	"findsimilar/models"
	"findsimilar/similar"

	"github.com/go-audio/wav"
)

type recordingResponse struct {
	Matches   []fingerprint.Match `json:"matches"`
	Similar   []similar.Result    `json:"similar"`
	LatencyMs float64             `json:"latencyMs"`
}

func main() {
	dir := flag.String("dir", "recordings", "Directory containing WAV recordings to send (ignored if -file is set)")
	file := flag.String("file", "", "Single WAV file to send (overrides -dir)")
	endpoint := flag.String("url", "http://localhost:5000/api/recordings", "Recording analysis endpoint")
	delay := flag.Duration("delay", 2*time.Second, "Delay between uploads when using -dir")
	timeout := flag.Duration("timeout", time.Minute, "Request timeout")
	flag.Parse()

	files, err := resolveFiles(*file, *dir)
	if err != nil {
		log.Fatalf("failed to resolve files: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("no WAV files found (file=%s dir=%s)", *file, *dir)
	}

	client := &http.Client{Timeout: *timeout}
	fmt.Printf("Sending %d recording(s) to %s\n\n", len(files), *endpoint)
	for idx, path := range files {
		if err := sendRecording(client, path, *endpoint); err != nil {
			log.Printf("upload failed for %s: %v\n", path, err)
		}

		if idx < len(files)-1 && *delay > 0 {
			time.Sleep(*delay)
		}
	}
}

func resolveFiles(single, dir string) ([]string, error) {
	if single != "" {
		return []string{single}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

func recordFromWav(path string) (models.RecordData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.RecordData{}, fmt.Errorf("read wav: %w", err)
	}

	decoder := wav.NewDecoder(bytes.NewReader(raw))
	if !decoder.IsValidFile() {
		return models.RecordData{}, fmt.Errorf("parse wav: %s is not a valid WAV file", path)
	}
	duration, err := decoder.Duration()
	if err != nil {
		return models.RecordData{}, fmt.Errorf("parse wav: %w", err)
	}

	return models.RecordData{
		Audio:      base64.StdEncoding.EncodeToString(raw),
		Duration:   duration.Seconds(),
		Channels:   int(decoder.NumChans),
		SampleRate: int(decoder.SampleRate),
		SampleSize: int(decoder.BitDepth),
	}, nil
}

func sendRecording(client *http.Client, path, endpoint string) error {
	fmt.Printf("→ %s\n", filepath.Base(path))

	record, err := recordFromWav(path)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post recording: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var result recordingResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if len(result.Matches) == 0 {
		fmt.Println("   no duplicates found")
	} else {
		best := result.Matches[0]
		fmt.Printf("   duplicate=%s by %s (score %.0f, offset %dms)\n", best.Title, best.Artist, best.Score, best.Timestamp)
	}
	for i, s := range result.Similar {
		if i >= 3 {
			break
		}
		fmt.Printf("   similar #%d: %s by %s (%.4f)\n", i+1, s.Title, s.Artist, s.Distance)
	}
	fmt.Printf("   latency: %.0fms\n", result.LatencyMs)
	return nil
}
