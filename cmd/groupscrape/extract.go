package main

import (
	"fmt"
	"io"
	"os"

	"github.com/Ziruax/shiny-octo-garbanzo/internal/extractor"
	"github.com/Ziruax/shiny-octo-garbanzo/internal/output"
	"github.com/Ziruax/shiny-octo-garbanzo/internal/site"
	"github.com/spf13/cobra"
)

var (
	extractInput  string
	extractOutput string
	extractSite   string
)

var extractCmd = &cobra.Command{
	Use:   "extract [file]",
	Short: "Pull group IDs and invite links out of saved page source.",
	Long: `extract reads HTML copied from a directory page (a file, or stdin when no
file is given), finds every join link, and prints the group IDs with the
matching WhatsApp invite links.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			extractInput = args[0]
		}

		rules, err := site.Lookup(extractSite)
		if err != nil {
			return err
		}

		var src io.Reader = os.Stdin
		if extractInput != "" && extractInput != "-" {
			f, err := os.Open(extractInput)
			if err != nil {
				return err
			}
			defer f.Close()
			src = f
		}
		raw, err := io.ReadAll(src)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		ids := extractor.JoinIDs(string(raw), rules.URL(rules.IndirectionMarker))
		if len(ids) == 0 {
			fmt.Fprintf(os.Stderr, "  %s No group links found in the input.\n", clr("yellow", "!"))
			return nil
		}
		links := extractor.InviteLinks(ids, rules.InviteBaseURL)

		output.RenderIDs(cmd.OutOrStdout(), ids, links)
		fmt.Printf("  %s %d unique groups\n", clr("green", "✓"), len(ids))

		if extractOutput == "" {
			return nil
		}
		f, err := os.Create(extractOutput)
		if err != nil {
			return err
		}
		if err := output.WriteIDs(f, ids, links); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", extractOutput, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Printf("    Output: %s\n", clr("green", extractOutput))
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVarP(&extractInput, "input", "i", "", "HTML file to read (default stdin)")
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "CSV file for the IDs and links")
	extractCmd.Flags().StringVarP(&extractSite, "site", "s", site.DirectoryA().Name, "site whose join links to look for")
	rootCmd.AddCommand(extractCmd)
}
