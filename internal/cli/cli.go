// Package cli is the streamsaver command tree.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"streamsaver/internal/dispatch"
	"streamsaver/internal/events"
	"streamsaver/internal/extract"
)

// Runtime is a built application the commands drive
type Runtime interface {
	Dispatch(ctx context.Context, cmd dispatch.Command) (any, error)
	Events() *events.Bus
	Serve(ctx context.Context) error
	// Wait blocks until background delegated downloads have ended.
	Wait()
	Close() error
}

// Settings are the global flag values handed to the Factory
type Settings struct {
	ConfigPath string
	LogLevel   string
	Host       string
	Port       int
	// SaveOverrides persists the overrides to the config file
	SaveOverrides bool
}

// Factory builds a Runtime
type Factory func(ctx context.Context, s Settings) (Runtime, error)

// CLI represents the command-line interface
type CLI struct {
	version    string
	factory    Factory
	settings   Settings
	jsonOutput bool
}

// NewCLI creates a new CLI instance
func NewCLI(version string, factory Factory) *CLI {
	return &CLI{
		version: version,
		factory: factory,
	}
}

// Command returns the root command
func (c *CLI) Command() *cobra.Command {
	root := &cobra.Command{
		Use:   "streamsaver",
		Short: "Media download orchestration engine",
		Long: `streamsaver - media download orchestration engine

Resolves a URL into downloadable variants, downloads the chosen one through
yt-dlp with aria2c, and scrapes pages that have no metadata API.

Run 'streamsaver serve' to expose the command API over HTTP.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&c.settings.ConfigPath, "config", "", "Config file (default: $STREAMSAVER_HOME/config.toml)")
	root.PersistentFlags().StringVar(&c.settings.LogLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "Output as JSON")

	root.Version = c.version
	root.SetVersionTemplate("streamsaver {{.Version}}\n")

	root.AddCommand(
		c.serveCommand(),
		c.analyzeCommand(),
		c.downloadCommand(),
		c.updateEngineCommand(),
		c.extractCommand(),
		c.versionCommand(),
	)
	return root
}

func (c *CLI) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt Runtime) error {
				fmt.Fprintln(cmd.ErrOrStderr(), "Press Ctrl+C to stop")
				return rt.Serve(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&c.settings.Host, "host", "", "Override listen host")
	cmd.Flags().IntVar(&c.settings.Port, "port", 0, "Override listen port")
	cmd.Flags().BoolVar(&c.settings.SaveOverrides, "save", false, "Write the overrides to the config file")
	return cmd
}

func (c *CLI) analyzeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <url>",
		Short: "List the downloadable formats of a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt Runtime) error {
				reply, err := rt.Dispatch(ctx, command(dispatch.MethodAnalyze, map[string]any{"url": args[0]}))
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return printJSON(cmd.OutOrStdout(), reply)
				}
				printAnalysis(cmd.OutOrStdout(), reply.(*dispatch.AnalyzeReply))
				return nil
			})
		},
	}
}

func (c *CLI) downloadCommand() *cobra.Command {
	var (
		formatID string
		audio    bool
		title    string
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:   "download <url>",
		Short: "Download one format of a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt Runtime) error {
				stop := func() {}
				if !quiet {
					stop = streamProgress(rt.Events(), cmd.ErrOrStderr())
				}
				reply, err := rt.Dispatch(ctx, command(dispatch.MethodDownloadVideo, map[string]any{
					"url":      args[0],
					"formatId": formatID,
					"isAudio":  audio,
					"title":    title,
				}))
				stop()
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return printJSON(cmd.OutOrStdout(), reply)
				}
				fmt.Fprintln(cmd.OutOrStdout(), reply.(*dispatch.DownloadReply).Path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&formatID, "format", "f", "", "Format ID from analyze")
	cmd.Flags().BoolVarP(&audio, "audio", "a", false, "Download audio only as MP3")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Output file title")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress")
	return cmd
}

func (c *CLI) updateEngineCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update-engine",
		Short: "Update the yt-dlp binary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt Runtime) error {
				reply, err := rt.Dispatch(ctx, command(dispatch.MethodUpdateEngine, nil))
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return printJSON(cmd.OutOrStdout(), reply)
				}
				fmt.Fprintln(cmd.OutOrStdout(), reply.(*dispatch.UpdateReply).Status)
				return nil
			})
		},
	}
}

func (c *CLI) extractCommand() *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "extract <url>",
		Short: "Scrape a page for its video and download it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt Runtime) error {
				reply, err := rt.Dispatch(ctx, command(dispatch.MethodDownloadInsta, map[string]any{"url": args[0]}))
				if err != nil {
					return err
				}
				if c.jsonOutput {
					if err := printJSON(cmd.OutOrStdout(), reply); err != nil {
						return err
					}
				} else {
					r := reply.(*extract.Reply)
					fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", r.Title, r.VideoURL)
				}
				if !noWait {
					rt.Wait()
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Exit without waiting for the file transfer")
	return cmd
}

func (c *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "streamsaver version %s\n", c.version)
		},
	}
}

func (c *CLI) withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := c.factory(ctx, c.settings)
	if err != nil {
		return err
	}

	runErr := fn(ctx, rt)
	if err := rt.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func command(method string, args map[string]any) dispatch.Command {
	cmd := dispatch.Command{Method: method}
	if args != nil {
		cmd.Args, _ = json.Marshal(args)
	}
	return cmd
}

// streamProgress prints download events until the returned func is called
func streamProgress(bus *events.Bus, w io.Writer) func() {
	sub := bus.SubscribeAll(16)
	var wg sync.WaitGroup
	wg.Add(1)

	printEvent := func(e events.Event) {
		switch ev := e.(type) {
		case *events.Progress:
			eta := "--"
			if ev.ETA >= 0 {
				eta = (time.Duration(ev.ETA) * time.Second).String()
			}
			fmt.Fprintf(w, "%5.1f%%  ETA %s\n", ev.Progress, eta)
		case *events.Failure:
			fmt.Fprintf(w, "failed: %s\n", ev.Error)
		}
	}

	go func() {
		defer wg.Done()
		for {
			select {
			case e := <-sub.Events():
				printEvent(e)
			case <-sub.Done():
				for {
					select {
					case e := <-sub.Events():
						printEvent(e)
					default:
						return
					}
				}
			}
		}
	}()

	return func() {
		bus.Unsubscribe(sub)
		wg.Wait()
	}
}

func printAnalysis(w io.Writer, r *dispatch.AnalyzeReply) {
	fmt.Fprintf(w, "%s\n", r.Title)
	if r.Duration > 0 {
		fmt.Fprintf(w, "Duration: %s\n", time.Duration(r.Duration)*time.Second)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tQUALITY\tSIZE\tEXT")
	for _, o := range r.Options {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.ID, o.Label, o.SizeDisplay, o.Extension)
	}
	tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ExitCode maps a command error to a process exit status
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var derr *dispatch.Error
	if errors.As(err, &derr) && derr.Code == dispatch.CodeEngineNotReady {
		return 3
	}
	return 1
}
