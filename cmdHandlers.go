package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"findsimilar/analyzer"
	"findsimilar/audio"
	"findsimilar/db"
	"findsimilar/fingerprint"
	"findsimilar/models"
	"findsimilar/scms"
	"findsimilar/utils"

	"github.com/fatih/color"
	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/mdobak/go-xerrors"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
)

var (
	yellow = color.New(color.FgYellow)
	green  = color.New(color.FgGreen)
	cyan   = color.New(color.FgCyan)
	red    = color.New(color.FgRed)
)

var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".m4a":  true,
	".aac":  true,
}

// collectAudioFiles expands directories into the audio files beneath them.
func collectAudioFiles(paths []string) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && audioExtensions[strings.ToLower(filepath.Ext(path))] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func analyze(ctx context.Context, paths []string, artist string) error {
	logger := utils.GetLogger()

	files, err := collectAudioFiles(paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no audio files under %s", strings.Join(paths, ", "))
	}

	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	p := mpb.New(mpb.WithWidth(64))
	bar := p.AddBar(int64(len(files)),
		mpb.PrependDecorators(
			decor.Name("Indexing: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 60),
		),
	)

	// each file already fans out across cores internally
	workers := max(1, runtime.GOMAXPROCS(0)/4)
	var indexed, skipped, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range files {
		g.Go(func() error {
			defer bar.Increment()
			_, err := svc.analyzer.Index(gctx, svc.store, path, models.Track{Artist: artist})
			switch {
			case err == nil:
				indexed.Add(1)
			case errors.Is(err, db.ErrDuplicateTrack):
				skipped.Add(1)
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				failed.Add(1)
				logger.ErrorContext(gctx, "failed to index file", slog.String("path", path), slog.Any("error", xerrors.New(err)))
			}
			return nil
		})
	}
	err = g.Wait()
	p.Wait()
	if err != nil {
		return err
	}

	green.Printf("Indexed %d file(s)", indexed.Load())
	if n := skipped.Load(); n > 0 {
		yellow.Printf(", %d already indexed", n)
	}
	if n := failed.Load(); n > 0 {
		red.Printf(", %d failed", n)
	}
	fmt.Println()
	return nil
}

func match(ctx context.Context, path string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	fps, err := svc.analyzer.Fingerprints(ctx, path, svc.analyzer.QueryStride())
	if err != nil {
		return err
	}
	matches, elapsed, err := fingerprint.FindMatches(ctx, svc.store, fps, cfg.MatchThreshold)
	if err != nil {
		return err
	}

	if len(matches) == 0 {
		yellow.Println("No match found.")
		fmt.Printf("Search took: %s\n", elapsed)
		return nil
	}

	top := matches[:min(len(matches), 10)]
	fmt.Println("Top matches:")
	for _, m := range top {
		fmt.Printf("\t- %s by %s, score: %.0f, at %s\n", m.Title, m.Artist, m.Score, formatMs(m.Timestamp))
	}
	fmt.Println()
	green.Printf("Final prediction: %s by %s, score: %.0f\n", top[0].Title, top[0].Artist, top[0].Score)
	fmt.Printf("Search took: %s\n", elapsed)
	return nil
}

func findSimilar(ctx context.Context, path, kindName string, top int) error {
	kind, err := scms.ParseDistanceKind(kindName)
	if err != nil {
		return err
	}

	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	model, err := svc.analyzer.Model(ctx, path)
	if err != nil {
		return err
	}

	ranker := svc.ranker
	ranker.Kind = kind
	results, err := ranker.Similar(ctx, svc.store, model, top, 0)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		yellow.Println("No comparable tracks indexed.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "#\tTITLE\tARTIST\t%s\n", strings.ToUpper(kind.String()))
	for i, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.4f\n", i+1, r.Title, r.Artist, r.Distance)
	}
	return w.Flush()
}

func compare(ctx context.Context, pathA, pathB string) error {
	a, err := analyzer.New(cfg)
	if err != nil {
		return err
	}

	var modelA, modelB *scms.Model
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		modelA, err = a.Model(gctx, pathA)
		return err
	})
	g.Go(func() (err error) {
		modelB, err = a.Model(gctx, pathB)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	signer, err := scms.NewHyperplaneSigner(modelA.Dim(), cfg.SignatureBits, cfg.HashSeed)
	if err != nil {
		return err
	}
	comparer := scms.NewComparer(modelA.Dim(), scms.WithSigner(signer))

	cyan.Printf("%s  <->  %s\n", filepath.Base(pathA), filepath.Base(pathB))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, kind := range scms.DistanceKinds() {
		d, err := comparer.Distance(kind, modelA, modelB)
		if err != nil {
			fmt.Fprintf(w, "%s\t%s\n", kind, red.Sprint(err))
			continue
		}
		fmt.Fprintf(w, "%s\t%.6f\n", kind, d)
	}
	return w.Flush()
}

func listTracks() error {
	store, err := db.NewDBClient(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	tracks, err := store.ListTracks()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tARTIST\tDURATION\tPATH")
	for _, t := range tracks {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.1fs\t%s\n", t.ID, t.Title, t.Artist, t.Duration, t.Path)
	}
	return w.Flush()
}

func deleteTrack(rawID string) error {
	id, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid track id '%s': %w", rawID, err)
	}

	store, err := db.NewDBClient(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	track, ok, err := store.GetTrackByID(uint32(id))
	if err != nil {
		return err
	}
	if !ok {
		yellow.Printf("Track %d not found.\n", id)
		return nil
	}
	if err := store.DeleteTrackByID(uint32(id)); err != nil {
		return err
	}
	green.Printf("Deleted %s by %s.\n", track.Title, track.Artist)
	return nil
}

func erase() error {
	store, err := db.NewDBClient(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, collection := range []string{"fingerprints", "models", "tracks"} {
		if err := store.DeleteCollection(collection); err != nil {
			return err
		}
	}
	green.Println("Erase complete.")
	return nil
}

func formatMs(ms uint32) string {
	total := ms / 1000
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Message: message})
}

// allowMethod writes the CORS preamble and reports whether the request
// should be handled further.
func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", method+", OPTIONS")
	w.Header().Set("Access-Control-Allow-Credentials", "true")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	if r.Method != method {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

type uploadResponse struct {
	Added  []models.Track `json:"added"`
	Failed []string       `json:"failed,omitempty"`
	Total  int            `json:"total"`
}

func newTrackUploadHandler(svc *services) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !allowMethod(w, r, http.MethodPost) {
			return
		}

		if err := r.ParseMultipartForm(256 << 20); err != nil {
			logger.ErrorContext(ctx, "failed to parse multipart form", slog.Any("error", err))
			writeJSONError(w, http.StatusBadRequest, "invalid upload payload")
			return
		}
		if r.MultipartForm == nil || len(r.MultipartForm.File["tracks"]) == 0 {
			writeJSONError(w, http.StatusBadRequest, "no audio files provided")
			return
		}
		artist := strings.TrimSpace(r.FormValue("artist"))

		tempDir := filepath.Join("tmp", "uploads")
		if err := utils.CreateFolder(tempDir); err != nil {
			logger.ErrorContext(ctx, "failed to create temporary upload dir", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "internal error while preparing upload")
			return
		}

		var resp uploadResponse
		for _, fileHeader := range r.MultipartForm.File["tracks"] {
			track, err := indexUpload(ctx, svc, tempDir, fileHeader.Filename, artist, fileHeader.Open)
			if err != nil {
				logger.ErrorContext(ctx, "failed to index upload",
					slog.String("filename", fileHeader.Filename), slog.Any("error", xerrors.New(err)))
				resp.Failed = append(resp.Failed, fileHeader.Filename)
				continue
			}
			resp.Added = append(resp.Added, track)
		}

		total, err := svc.store.TotalTracks()
		if err != nil {
			logger.WarnContext(ctx, "failed to count tracks", slog.Any("error", err))
		}
		resp.Total = total
		writeJSON(w, http.StatusOK, resp)
	}
}

func indexUpload(ctx context.Context, svc *services, tempDir, filename, artist string, open func() (multipart.File, error)) (models.Track, error) {
	src, err := open()
	if err != nil {
		return models.Track{}, err
	}
	defer src.Close()

	tempFile, err := os.CreateTemp(tempDir, "upload-*"+filepath.Ext(filename))
	if err != nil {
		return models.Track{}, err
	}
	defer utils.DeleteFile(tempFile.Name())

	if _, err := io.Copy(tempFile, src); err != nil {
		tempFile.Close()
		return models.Track{}, err
	}
	if err := tempFile.Close(); err != nil {
		return models.Track{}, err
	}

	title := strings.TrimSuffix(filename, filepath.Ext(filename))
	return svc.analyzer.Index(ctx, svc.store, tempFile.Name(), models.Track{Title: title, Artist: artist, Path: filename})
}

func newTracksHandler(svc *services) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		tracks, err := svc.store.ListTracks()
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list tracks", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "failed to list tracks")
			return
		}
		if tracks == nil {
			tracks = []models.Track{}
		}
		writeJSON(w, http.StatusOK, tracks)
	}
}

func newRecordingHandler(svc *services) http.HandlerFunc {
	logger := utils.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !allowMethod(w, r, http.MethodPost) {
			return
		}

		var recData models.RecordData
		if err := json.NewDecoder(r.Body).Decode(&recData); err != nil {
			logger.ErrorContext(ctx, "failed to parse request body", slog.Any("error", err))
			writeJSONError(w, http.StatusBadRequest, "invalid request payload")
			return
		}
		if recData.Audio == "" {
			writeJSONError(w, http.StatusBadRequest, "no audio data received")
			return
		}

		result, err := svc.analyzeRecording(ctx, recData, 10)
		if err != nil {
			err := xerrors.New(err)
			logger.ErrorContext(ctx, "failed to analyze recording", slog.Any("error", err))
			writeJSONError(w, http.StatusBadRequest, "unable to analyze audio")
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func serve(protocol, port string) error {
	if err := audio.CheckFFmpegAvailable(); err != nil {
		log.Printf("WARNING: %v\n", err)
		log.Println("The server will start but uploads of non-WAV audio will fail until FFmpeg is installed.")
	} else {
		log.Println("FFmpeg is available")
	}

	protocol = strings.ToLower(protocol)
	var allowOriginFunc = func(r *http.Request) bool {
		return true
	}

	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	controller := newSocketController(svc)

	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: allowOriginFunc,
			},
			&polling.Transport{
				CheckOrigin: allowOriginFunc,
			},
		},
	})

	server.OnConnect("/", func(socket socketio.Conn) error {
		socket.SetContext("")
		log.Printf("CONNECTED: %s, remote addr: %s\n", socket.ID(), socket.RemoteAddr())
		controller.emitTotalTracks(socket)
		return nil
	})

	server.OnEvent("/", "totalTracks", func(socket socketio.Conn) {
		controller.emitTotalTracks(socket)
	})

	server.OnEvent("/", "newRecording", func(socket socketio.Conn, msg string) {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("panic in handleNewRecording for socket %s: %v\n", socket.ID(), r)
					socket.Emit("analysisError", map[string]string{"message": "internal server error during processing"})
				}
			}()
			controller.handleNewRecording(socket, msg)
		}()
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("meet error:", e)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("Socket disconnected - ID: %s, Reason: %s\n", s.ID(), reason)
	})

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("socketio listen error: %s\n", err)
		}
	}()
	defer server.Close()

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", server)
	mux.HandleFunc("/api/tracks", newTracksHandler(svc))
	mux.HandleFunc("/api/tracks/upload", newTrackUploadHandler(svc))
	mux.HandleFunc("/api/recordings", newRecordingHandler(svc))
	mux.Handle("/", http.FileServer(http.Dir("static")))

	return serveHTTP(protocol == "https", port, mux)
}

func serveHTTP(serveHTTPS bool, port string, handler http.Handler) error {
	if serveHTTPS {
		httpsServer := &http.Server{
			Addr: ":" + port,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			Handler: handler,
		}

		certKey := utils.GetEnv("CERT_KEY")
		certFile := utils.GetEnv("CERT_FILE")
		if certKey == "" || certFile == "" {
			return errors.New("https needs CERT_KEY and CERT_FILE")
		}

		log.Printf("Starting HTTPS server on port %v\n", port)
		return httpsServer.ListenAndServeTLS(certFile, certKey)
	}

	log.Printf("Starting HTTP server on port %v", port)
	return http.ListenAndServe(":"+port, handler)
}
