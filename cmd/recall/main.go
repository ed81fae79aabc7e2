// Command recall exercises the memory subsystem from the terminal:
// ingest messages, run searches, and inspect stats.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucidmem/recall/config"
	"github.com/lucidmem/recall/core"
	"github.com/lucidmem/recall/engine"
)

// ingestLine is one stdin record for the ingest command.
type ingestLine struct {
	ChannelID string            `json:"channel_id"`
	AuthorID  string            `json:"author_id"`
	Content   string            `json:"content"`
	Kind      string            `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata"`
}

func main() {
	var (
		configPath string
		dataDir    string
	)

	newEngine := func() (*engine.Engine, error) {
		cfg := config.Default()
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		return engine.New(cfg)
	}

	rootCmd := &cobra.Command{
		Use:   "recall",
		Short: "conversational memory subsystem",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to recall.yaml")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the configured data directory")

	var finalize bool
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "ingest JSON-line messages from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			channels := make(map[string]bool)
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			line := 0
			for scanner.Scan() {
				line++
				if len(scanner.Bytes()) == 0 {
					continue
				}
				var in ingestLine
				if err := json.Unmarshal(scanner.Bytes(), &in); err != nil {
					return fmt.Errorf("line %d: %w", line, err)
				}
				msg := &core.Message{
					ChannelID: in.ChannelID,
					AuthorID:  in.AuthorID,
					Content:   in.Content,
					Kind:      core.MessageKind(in.Kind),
					Timestamp: in.Timestamp,
					Metadata:  in.Metadata,
				}
				if err := e.StoreMessage(cmd.Context(), msg); err != nil {
					return fmt.Errorf("line %d: %w", line, err)
				}
				channels[in.ChannelID] = true
			}
			if err := scanner.Err(); err != nil {
				return err
			}

			if finalize {
				for ch := range channels {
					if _, err := e.FinalizeChannel(cmd.Context(), ch); err != nil {
						return err
					}
				}
			}
			fmt.Printf("ingested %d messages across %d channels\n", line, len(channels))
			return nil
		},
	}
	ingestCmd.Flags().BoolVar(&finalize, "finalize", false, "close active segments after ingesting")
	rootCmd.AddCommand(ingestCmd)

	var (
		channelID  string
		searchType string
		limit      int
		threshold  float64
		after      string
		before     string
	)
	searchCmd := &cobra.Command{
		Use:   "search <query text>",
		Short: "search a channel's memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			q := core.SearchQuery{
				Text:      args[0],
				ChannelID: channelID,
				Type:      core.SearchType(searchType),
				Limit:     limit,
				Threshold: threshold,
			}
			if after != "" {
				if q.After, err = time.Parse(time.RFC3339, after); err != nil {
					return fmt.Errorf("invalid --after: %w", err)
				}
			}
			if before != "" {
				if q.Before, err = time.Parse(time.RFC3339, before); err != nil {
					return fmt.Errorf("invalid --before: %w", err)
				}
			}

			res, err := e.SearchMemory(cmd.Context(), q)
			if err != nil {
				return err
			}

			fmt.Printf("%d results (%d found, %s, strategy %s)\n",
				len(res.Items), res.TotalFound, res.Elapsed.Round(time.Millisecond), res.Strategy)
			for i, item := range res.Items {
				switch {
				case item.Message != nil:
					fmt.Printf("%2d. [%.3f] %s %s: %s\n", i+1, item.Score,
						item.Message.Timestamp.Format(time.RFC3339), item.Message.AuthorID, item.Message.Content)
				case item.Segment != nil:
					fmt.Printf("%2d. [%.3f] segment %s (%d messages): %s\n", i+1, item.Score,
						item.Segment.ID, item.Segment.MessageCount, item.Segment.Summary)
				}
			}
			return nil
		},
	}
	searchCmd.Flags().StringVar(&channelID, "channel", "", "channel to search")
	searchCmd.Flags().StringVar(&searchType, "type", "hybrid", "semantic, keyword, temporal, or hybrid")
	searchCmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	searchCmd.Flags().Float64Var(&threshold, "threshold", 0, "minimum relevance score")
	searchCmd.Flags().StringVar(&after, "after", "", "RFC3339 lower time bound")
	searchCmd.Flags().StringVar(&before, "before", "", "RFC3339 upper time bound")
	searchCmd.MarkFlagRequired("channel")
	rootCmd.AddCommand(searchCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "print subsystem statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			stats, err := e.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("profile:          %s\n", stats.Profile)
			fmt.Printf("total segments:   %d\n", stats.TotalSegments)
			fmt.Printf("avg query time:   %.2fms\n", stats.AvgQueryTimeMs)
			fmt.Printf("cache hit rate:   %.2f\n", stats.CacheHitRate)
			return nil
		},
	}
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
