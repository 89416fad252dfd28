package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"findsimilar/config"
	"findsimilar/utils"

	"github.com/mdobak/go-xerrors"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:           "findsimilar",
	Short:         "Audio fingerprinting and similarity search",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg, err = config.FromEnv(loaded); err != nil {
			return err
		}
		return cfg.Validate()
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file|dir>...",
	Short: "Index audio files for matching and similarity search",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		artist, _ := cmd.Flags().GetString("artist")
		return analyze(cmd.Context(), args, artist)
	},
}

var matchCmd = &cobra.Command{
	Use:   "match <file>",
	Short: "Find indexed tracks containing the given recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return match(cmd.Context(), args[0])
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar <file>",
	Short: "Rank indexed tracks by model distance to the given file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("distance")
		top, _ := cmd.Flags().GetInt("top")
		return findSimilar(cmd.Context(), args[0], kind, top)
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare <a> <b>",
	Short: "Print every distance between the models of two files",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return compare(cmd.Context(), args[0], args[1])
	},
}

var tracksCmd = &cobra.Command{
	Use:   "tracks",
	Short: "List indexed tracks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listTracks()
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <trackID>",
	Short: "Remove a track with its fingerprints and model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return deleteTrack(args[0])
	},
}

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Drop every stored track, fingerprint and model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return erase()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve socket.io and HTTP endpoints for live matching",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		protocol, _ := cmd.Flags().GetString("proto")
		port, _ := cmd.Flags().GetString("port")
		return serve(protocol, port)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", utils.GetEnv("FINDSIMILAR_CONFIG"), "YAML configuration file")

	analyzeCmd.Flags().String("artist", "", "artist recorded for every indexed file")
	similarCmd.Flags().StringP("distance", "d", "kl", "distance kind (kl, cosine, hamming, dtw-euclidean, dtw-squared-euclidean, dtw-manhattan, dtw-maximum)")
	similarCmd.Flags().IntP("top", "n", 10, "number of results")
	serveCmd.Flags().String("proto", "http", "protocol to use (http or https)")
	serveCmd.Flags().StringP("port", "p", "5000", "port to use")

	rootCmd.AddCommand(analyzeCmd, matchCmd, similarCmd, compareCmd, tracksCmd, deleteCmd, eraseCmd, serveCmd)
}

func main() {
	if err := utils.CreateFolder("tmp"); err != nil {
		logger := utils.GetLogger()
		err := xerrors.New(err)
		logger.ErrorContext(context.Background(), "Failed create tmp dir.", slog.Any("error", err))
	}

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		utils.GetLogger().Error("command failed", slog.Any("error", xerrors.New(err)))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
