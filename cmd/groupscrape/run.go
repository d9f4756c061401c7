package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/Ziruax/shiny-octo-garbanzo/internal/config"
	"github.com/Ziruax/shiny-octo-garbanzo/internal/harvester"
	"github.com/Ziruax/shiny-octo-garbanzo/internal/output"
	"github.com/Ziruax/shiny-octo-garbanzo/pkg/plugin"
	"github.com/briandowns/spinner"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var showTable bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest group listings from one directory site.",
	Example: `  groupscrape run --site directory-a --category 7 --max-pages 10
  groupscrape run --site b --country 2 --resolver browser --table`,
	RunE: runHarvest,
}

func init() {
	d := harvester.DefaultConfig()
	f := runCmd.Flags()

	// Target
	f.StringP("site", "s", d.Site.Name, "site rules to use (see `groupscrape sites`)")
	f.String("category", "", "category filter id")
	f.String("country", "", "country filter id")
	f.String("language", "", "language filter id")

	// Loop
	f.IntP("max-pages", "m", d.MaxPages, "maximum number of pages to request (0 = until the site runs out)")
	f.Duration("delay-min", d.DelayMin, "minimum delay between requests")
	f.Duration("delay-max", d.DelayMax, "maximum delay between requests")
	f.Int("retries", d.MaxRetries, "attempts per page before giving up")
	f.Duration("retry-delay", d.RetryDelay, "delay between attempts")
	f.DurationP("timeout", "t", d.Timeout, "time to wait for a single request")

	// Request
	f.String("user-agent", "", "fixed user-agent (random per request when empty)")
	f.String("proxy", "", "http/socks5 proxy to use")
	f.StringArrayP("header", "H", nil, `custom header in "Key: Value" format (repeatable)`)

	// Features
	f.Bool("resolve", d.Resolve, "follow indirection links to the final invite link")
	f.String("fetcher", string(d.FetcherMode), "page fetcher: http, browser")
	f.String("resolver", string(d.ResolverMode), "link resolver: http, browser")

	// Output
	f.StringP("output", "o", d.OutputPath, `CSV file to write ("-" to skip)`)
	f.Bool("include-filters", d.IncludeFilters, "add category/country/language columns to the CSV")
	f.BoolVar(&showTable, "table", false, "print the collected records as a table")

	rootCmd.AddCommand(runCmd)
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	loaded, err := config.LoadConfig(configDir, cmd.Flags())
	if err != nil {
		return err
	}
	log, err := loaded.Logger()
	if err != nil {
		return err
	}
	cfg, err := loaded.Harvester()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	opts := []harvester.Option{harvester.WithLogger(log)}
	if showTable {
		opts = append(opts, harvester.WithWriter(output.NewTableWriter(os.Stdout)))
	}
	h := harvester.New(cfg, opts...)
	if err := h.Init(ctx); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer func() {
		if err := h.Close(); err != nil {
			log.WithError(err).Debug("Error closing harvester")
		}
	}()

	stop := make(chan os.Signal, 1)
	pause := make(chan os.Signal, 1)
	registerSignals(stop, pause)
	defer signal.Stop(stop)
	defer signal.Stop(pause)
	go watchSignals(h, stop, pause, func() {
		// A second interrupt gets the default behaviour and kills the process.
		signal.Stop(stop)
	})

	printBanner()
	fmt.Printf("\n  %s %s (%s)\n", clr("cyan", "Site:"), cfg.Site.Name, cfg.Site.BaseURL)
	fmt.Printf("  %s %d  %s %s-%s  %s %s\n",
		clr("dim", "Max pages:"), cfg.MaxPages,
		clr("dim", "Delay:"), cfg.DelayMin, cfg.DelayMax,
		clr("dim", "Fetcher:"), string(cfg.FetcherMode),
	)
	if hint := pauseHint(); hint != "" {
		fmt.Printf("  %s\n", clr("dim", hint))
	}
	fmt.Println()

	ui := newStatus(log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range h.Events() {
			ui.handle(event)
		}
	}()

	if err := h.Run(ctx); err != nil {
		return fmt.Errorf("run error: %w", err)
	}
	<-done
	ui.stopSpinner()

	printSummary(h.Summary(), cfg)
	return nil
}

type runControl interface {
	Stop()
	Pause()
	Resume()
	Paused() bool
}

// watchSignals toggles pause on each pause signal and stops the run on
// the first stop signal, calling release before it returns.
func watchSignals(ctl runControl, stop, pause <-chan os.Signal, release func()) {
	for {
		select {
		case <-stop:
			release()
			fmt.Fprintf(os.Stderr, "\n%s Interrupt received, stopping after the current request (Ctrl+C again to quit)...\n", clr("yellow", "!"))
			ctl.Stop()
			return
		case <-pause:
			if ctl.Paused() {
				ctl.Resume()
			} else {
				ctl.Pause()
			}
		}
	}
}

// status renders harvester events as inline status lines.
type status struct {
	log    logrus.FieldLogger
	spin   *spinner.Spinner
	mu     sync.Mutex
	spinOn bool
	tick   chan struct{}
}

func newStatus(log logrus.FieldLogger) *status {
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	return &status{log: log, spin: s}
}

func (s *status) startSpinner(suffix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spin.Lock()
	s.spin.Suffix = " " + suffix
	s.spin.Unlock()
	if !s.spinOn {
		s.spin.Start()
		s.spinOn = true
	}
}

// countdown keeps the spinner suffix showing the time left before the
// next page until another event arrives.
func (s *status) countdown(d time.Duration, page int) {
	deadline := time.Now().Add(d)
	label := func() string { return countdownLabel(time.Until(deadline), page) }
	s.startSpinner(label())

	quit := make(chan struct{})
	s.mu.Lock()
	s.tick = quit
	s.mu.Unlock()

	go func() {
		t := time.NewTicker(100 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-quit:
				return
			case <-t.C:
				s.spin.Lock()
				s.spin.Suffix = " " + label()
				s.spin.Unlock()
				if time.Now().After(deadline) {
					return
				}
			}
		}
	}()
}

func countdownLabel(left time.Duration, page int) string {
	if left < 0 {
		left = 0
	}
	return fmt.Sprintf("Waiting %s before page %d", left.Round(100*time.Millisecond), page)
}

func (s *status) stopSpinner() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tick != nil {
		close(s.tick)
		s.tick = nil
	}
	if s.spinOn {
		s.spin.Stop()
		s.spinOn = false
	}
}

func (s *status) handle(event plugin.RunEvent) {
	s.stopSpinner()

	switch event.Type {
	case plugin.EventPageStarted:
		s.startSpinner(event.Message)

	case plugin.EventPageDone:
		if event.Batch == nil {
			return
		}
		b := event.Batch
		dur := ""
		if b.Page != nil {
			dur = output.FmtDur(b.Page.FetchDuration)
		}
		total := 0
		if event.Stats != nil {
			total = event.Stats.RecordsFound
		}
		fmt.Printf("  %s page %d %s %s %s\n",
			clr("green", "●"),
			b.Index,
			clr("dim", "("+dur+")"),
			clr("cyan", fmt.Sprintf("+%d", len(b.Records))),
			clr("dim", fmt.Sprintf("[total %d]", total)),
		)

	case plugin.EventPageEnd:
		fmt.Printf("  %s %s\n", clr("dim", "■"), event.Message)

	case plugin.EventDelay:
		s.countdown(event.Delay, event.Page)

	case plugin.EventWarning:
		fmt.Printf("  %s %s\n", clr("yellow", "!"), event.Message)

	case plugin.EventStateChanged:
		switch harvester.State(event.State) {
		case harvester.StatePaused:
			fmt.Printf("  %s paused\n", clr("yellow", "‖"))
		case harvester.StateResolving:
			fmt.Printf("  %s resolving links\n", clr("cyan", "→"))
		}

	case plugin.EventRecordResolved:
		if event.Record != nil {
			fmt.Printf("      %s %s\n", clr("dim", "├─ resolved:"), event.Record.Link)
		}

	case plugin.EventResolveFailed:
		fmt.Printf("      %s %s\n", clr("red", "├─ failed:"), event.Message)

	case plugin.EventRunStarted, plugin.EventRunFinished:
		s.log.WithField("event", event.Type).Debug(event.Message)
	}
}

func printSummary(s *plugin.RunSummary, cfg *harvester.Config) {
	fmt.Println()
	fmt.Printf("  %s\n", strings.Repeat("─", 50))
	mark := clr("green", "✓")
	if s.FinalState == string(harvester.StateStopped) {
		mark = clr("yellow", "■")
	}
	fmt.Printf("  %s Harvest %s (%s)\n", mark, s.FinalState, s.StopReason)
	fmt.Printf("    Pages:   %s processed in %s\n",
		clr("cyan", fmt.Sprintf("%d", s.PagesProcessed)),
		output.FmtDur(s.Duration),
	)
	if s.PagesFailed > 0 {
		fmt.Printf("    Failed:  %s page(s) got no response\n", clr("red", fmt.Sprintf("%d", s.PagesFailed)))
	}
	fmt.Printf("    Records: %s found\n", clr("yellow", fmt.Sprintf("%d", s.TotalRecords)))
	if s.Resolved > 0 || s.ResolveFailed > 0 {
		fmt.Printf("    Links:   %s resolved, %s failed\n",
			clr("green", fmt.Sprintf("%d", s.Resolved)),
			clr("red", fmt.Sprintf("%d", s.ResolveFailed)),
		)
	}

	if s.TotalRecords == 0 {
		fmt.Printf("\n  %s No groups were found. The site may have changed its layout,\n", clr("yellow", "!"))
		fmt.Println("    blocked automated requests, or has nothing for these filters.")
		fmt.Println("    Try again later, widen the filters, or use --fetcher browser.")
	} else if cfg.SaveOutput {
		fmt.Printf("    Output:  %s\n", clr("green", cfg.OutputPath))
	}
	fmt.Println()
}
