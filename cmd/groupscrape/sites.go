package main

import (
	"os"

	"github.com/Ziruax/shiny-octo-garbanzo/internal/site"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Prints the built-in site rules.",
	Run: func(cmd *cobra.Command, args []string) {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Name", "Base URL", "Load more", "First page", "Resolves links"})

		for _, s := range site.All() {
			t.AppendRow(table.Row{
				s.Name,
				s.BaseURL,
				s.LoadMorePath,
				string(s.FirstPageMode),
				s.ResolveIndirection,
			})
		}

		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

func init() {
	rootCmd.AddCommand(sitesCmd)
}
