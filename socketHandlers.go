package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"

	"findsimilar/models"
	"findsimilar/utils"

	socketio "github.com/googollee/go-socket.io"
	"github.com/mdobak/go-xerrors"
)

// socketTopK bounds the similar tracks sent back per recording.
const socketTopK = 10

type socketController struct {
	svc *services
}

func newSocketController(svc *services) *socketController {
	return &socketController{svc: svc}
}

func (c *socketController) emitTotalTracks(socket socketio.Conn) {
	logger := utils.GetLogger()
	total, err := c.svc.store.TotalTracks()
	if err != nil {
		err := xerrors.New(err)
		logger.ErrorContext(context.Background(), "failed to count tracks", slog.Any("error", err))
		return
	}
	socket.Emit("totalTracks", total)
}

func (c *socketController) handleNewRecording(socket socketio.Conn, recordData string) {
	logger := utils.GetLogger()
	ctx := context.Background()

	if recordData == "" {
		logger.ErrorContext(ctx, "no data received in newRecording event")
		socket.Emit("analysisError", map[string]string{"message": "no audio data received"})
		return
	}

	var recData models.RecordData
	if err := json.Unmarshal([]byte(recordData), &recData); err != nil {
		err := xerrors.New(err)
		logger.ErrorContext(ctx, "failed to parse record payload", slog.Any("error", err))
		socket.Emit("analysisError", map[string]string{"message": "invalid audio payload"})
		return
	}

	logger.InfoContext(ctx, "received recording",
		slog.String("socketID", socket.ID()),
		slog.Int("sampleRate", recData.SampleRate),
		slog.Int("channels", recData.Channels),
		slog.Int("sampleSize", recData.SampleSize),
		slog.Float64("duration", recData.Duration),
	)

	result, err := c.svc.analyzeRecording(ctx, recData, socketTopK)
	if err != nil {
		err := xerrors.New(err)
		logger.ErrorContext(ctx, "failed to analyze recording", slog.Any("error", err))
		socket.Emit("analysisError", map[string]string{"message": "unable to analyze audio"})
		return
	}

	logger.InfoContext(ctx, "recording analyzed",
		slog.String("socketID", socket.ID()),
		slog.Float64("latency_ms", result.LatencyMs),
		slog.Int("matches", len(result.Matches)),
		slog.Int("similar", len(result.Similar)),
	)

	matches := result.Matches[:min(len(result.Matches), 10)]
	if len(matches) == 0 {
		log.Printf("[handleNewRecording] no match for socket %s\n", socket.ID())
	}
	socket.Emit("matches", matches)
	socket.Emit("similar", result.Similar)
}
