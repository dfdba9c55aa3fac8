// Package main provides the headless player entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/yaytsa/player/internal/app/player"
	"github.com/yaytsa/player/internal/app/queue"
	"github.com/yaytsa/player/internal/infra/beepaudio"
	"github.com/yaytsa/player/internal/infra/config"
	"github.com/yaytsa/player/internal/infra/logger"
	"github.com/yaytsa/player/internal/infra/mediaserver"
	"github.com/yaytsa/player/internal/infra/settings"
)

var (
	app        = kingpin.New("player", "headless media server playback client")
	configPath = app.Flag("config", "Path to config file").Default("config/player.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	playCmd     = app.Command("play", "Play an album or playlist").Default()
	playParent  = playCmd.Arg("parent-id", "Album or playlist item ID").Required().String()
	playShuffle = playCmd.Flag("shuffle", "Enable shuffle").Bool()
	playRepeat  = playCmd.Flag("repeat", "Repeat mode: off, one, all").Default("off").Enum("off", "one", "all")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{Output: "stdout", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Player error: %v", err)
		os.Exit(1)
	}
}

// run executes the player lifecycle. A separate function ensures defers run
// even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	client := mediaserver.New(mediaserver.Config{
		BaseURL:    cfg.Server.URL,
		Username:   cfg.Server.Username,
		Password:   cfg.Server.Password,
		ClientName: cfg.Client.Name,
		Version:    cfg.Client.Version,
		DeviceName: cfg.Client.DeviceName,
	})
	if err := client.Authenticate(ctx); err != nil {
		return err
	}

	tracks, err := client.Tracks(ctx, *playParent)
	if err != nil {
		return err
	}
	if len(tracks) == 0 {
		zlog.Warn().Msgf("Nothing to play under %s", *playParent)
		return nil
	}
	zlog.Info().Msgf("Queueing %d tracks", len(tracks))

	engine, err := beepaudio.NewEngine()
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	store := settings.Open(cfg.Settings.Path)

	q := queue.New()
	p := player.New(engine, q, client, client, store, beepaudio.NewNoiseUnit, player.Config{
		PreviousRestartThreshold: cfg.PreviousRestartThreshold(),
		ProgressInterval:         cfg.ProgressInterval(),
		ReportTimeout:            cfg.ReportTimeout(),
	})
	defer p.Close()

	subID, states := p.Subscribe()
	defer p.Unsubscribe(subID)
	go func() {
		var lastTrack string
		for snap := range states {
			if snap.Track != nil && snap.Track.ID != lastTrack {
				lastTrack = snap.Track.ID
				zlog.Info().Msgf("Now playing: %s - %s", snap.Track.PrimaryArtist(), snap.Track.Name)
			}
		}
	}()

	var volume float64 = 1.0
	store.Get(player.SettingVolume, &volume)
	engine.SetVolume(volume)

	q.SetRepeatMode(parseRepeat(*playRepeat))
	if *playShuffle {
		q.SetShuffle(true)
	}

	if err := p.PlayTracks(ctx, tracks, 0); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	zlog.Info().Msgf("Received %v, shutting down", s)

	return p.Stop()
}

func parseRepeat(s string) queue.RepeatMode {
	switch s {
	case "one":
		return queue.RepeatOne
	case "all":
		return queue.RepeatAll
	default:
		return queue.RepeatOff
	}
}
