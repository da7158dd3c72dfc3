// fragwatch - Quake 3 Arena kill/death statistics tracker
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/ernie/fragwatch/internal/api"
	"github.com/ernie/fragwatch/internal/bus"
	"github.com/ernie/fragwatch/internal/collector"
	"github.com/ernie/fragwatch/internal/config"
	"github.com/ernie/fragwatch/internal/logger"
	"github.com/ernie/fragwatch/internal/storage"
)

var version = "dev"

const defaultConfigPath = "/etc/fragwatch/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "ladder":
		cmdLadder(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "player":
		cmdPlayer(os.Args[2:])
	case "version":
		fmt.Printf("fragwatch %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: fragwatch <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                        Start the tracker and HTTP API")
	fmt.Println("  status                       Show the current match snapshot")
	fmt.Println("  ladder [--top N]             Show the career ladder (default: 20)")
	fmt.Println("  player <key>                 Show one player's profile")
	fmt.Println("  version                      Show version")
	fmt.Println("  help                         Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/fragwatch/config.yml)")
	fmt.Println("  --url <url>        Base URL of the fragwatch server (default: derived from config)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  fragwatch serve --config /etc/fragwatch/config.yml")
	fmt.Println("  fragwatch ladder --top 50")
	fmt.Println("  fragwatch player sarge")
}

// cmdServe starts the tracker and HTTP API
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else {
			fmt.Fprintf(os.Stderr, "No config file found at %s. Use --config to specify a config file.\n", defaultConfigPath)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Server.LogLevel)
	log.Info().Str("version", version).Msg("fragwatch starting")

	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing database")
	}
	defer store.Close()
	log.Info().Str("path", cfg.Database.Path).Msg("database initialized")

	eventBus, err := bus.New()
	if err != nil {
		log.Fatal().Err(err).Msg("starting event bus")
	}
	defer eventBus.Close()

	tracker := collector.NewTracker(cfg, store, eventBus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tracker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("starting tracker")
	}

	var provider collector.LiveStatusProvider
	if cfg.Game.Address != "" {
		provider = collector.NewQ3Client(cfg.Game.Address)
		log.Info().Str("address", cfg.Game.Address).Msg("live status queries enabled")
	}

	snapshots := collector.NewSnapshotBuilder(provider, tracker.State(), store,
		cfg.Game.QueryTimeout, cfg.Stats.CacheTTL, cfg.Stats.BotNames)

	router := api.NewRouter(store, snapshots)
	if err := router.StartWebSocketHub(eventBus); err != nil {
		log.Fatal().Err(err).Msg("starting websocket hub")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("http server")
	}

	// Sequential shutdown
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}

	tracker.Stop()
	cancel()
	log.Info().Msg("shutdown complete")
}

// CLI helper variables
var baseURL = "http://localhost:8080"

// loadCLIConfig resolves the server URL from flags and config, returning
// the positional args.
func loadCLIConfig(args []string) []string {
	fs := flag.NewFlagSet("cli", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the fragwatch server")
	topFlag = fs.Int("top", 20, "number of entries to show")
	botsFlag = fs.Bool("bots", false, "include bots")
	fs.Parse(args)

	if *url != "" {
		baseURL = *url
		return fs.Args()
	}

	cfg, err := config.Load(*configPath)
	if err == nil {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	}
	return fs.Args()
}

var (
	topFlag  *int
	botsFlag *bool
)

func cmdLadder(args []string) {
	loadCLIConfig(args)

	var entries []map[string]interface{}
	path := fmt.Sprintf("/api/ladder?limit=%d", *topFlag)
	if *botsFlag {
		path += "&include_bots=true"
	}
	if err := getJSON(path, &entries); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPLAYER\tKILLS\tDEATHS\tK/D")
	fmt.Fprintln(w, "----\t------\t-----\t------\t---")

	for i, entry := range entries {
		name := entry["name"].(string)
		kills := int64(entry["kills"].(float64))
		deaths := int64(entry["deaths"].(float64))
		kd := entry["kd"].(float64)

		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%.2f\n", i+1, name, kills, deaths, kd)
	}

	w.Flush()
}

func cmdStatus(args []string) {
	loadCLIConfig(args)

	var snapshot map[string]interface{}
	if err := getJSON("/api/snapshot", &snapshot); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	source, _ := snapshot["source"].(string)
	fmt.Printf("Source: %s\n", source)

	cur, ok := snapshot["current_match"].(map[string]interface{})
	if !ok {
		fmt.Println("No match data")
		return
	}

	if active, _ := cur["active"].(bool); !active {
		fmt.Println("No active match")
		return
	}

	mapName, _ := cur["map_name"].(string)
	gameType, _ := cur["game_type"].(string)
	fmt.Printf("Map: %s (%s)\n", mapName, gameType)

	players, _ := cur["players"].([]interface{})
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYER\tKILLS\tDEATHS")
	fmt.Fprintln(w, "------\t-----\t------")
	for _, p := range players {
		pm, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := pm["name"].(string)
		kills := int(pm["kills"].(float64))
		deaths := int(pm["deaths"].(float64))
		fmt.Fprintf(w, "%s\t%d\t%d\n", name, kills, deaths)
	}
	w.Flush()
}

func cmdPlayer(args []string) {
	remaining := loadCLIConfig(args)
	if len(remaining) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: fragwatch player <key>\n")
		os.Exit(1)
	}
	key := remaining[0]

	var profile map[string]interface{}
	if err := getJSON("/api/players/"+key, &profile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if player, ok := profile["player"].(map[string]interface{}); ok {
		name, _ := player["clean_name"].(string)
		fmt.Printf("Player: %s (%s)\n", name, key)
	}

	if totals, ok := profile["totals"].(map[string]interface{}); ok {
		kills := int64(totals["kills"].(float64))
		deaths := int64(totals["deaths"].(float64))
		kd := totals["kd"].(float64)
		fmt.Printf("Kills: %d  Deaths: %d  K/D: %.2f\n", kills, deaths, kd)
	}

	if opponents, ok := profile["most_killed"].([]interface{}); ok && len(opponents) > 0 {
		fmt.Println("\nMost killed:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, o := range opponents {
			om, ok := o.(map[string]interface{})
			if !ok {
				continue
			}
			oname, _ := om["name"].(string)
			count := int(om["count"].(float64))
			fmt.Fprintf(w, "  %s\t%d\n", oname, count)
		}
		w.Flush()
	}
}

func getJSON(path string, target interface{}) error {
	url := baseURL + path
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(target)
}
