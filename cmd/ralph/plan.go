package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/plan"
)

var planJSON bool

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the plan file's checkboxes",
	Run: func(cmd *cobra.Command, args []string) {
		workspace, cfg, err := loadWorkspace()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		pp := planPath(workspace, cfg)
		if pp == "" {
			fmt.Fprintln(os.Stderr, "Error: no plan file configured")
			os.Exit(1)
		}
		p, err := plan.Load(pp)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if planJSON {
			type jsonItem struct {
				Text    string `json:"text"`
				Checked bool   `json:"checked"`
				Line    int    `json:"line"`
			}
			total, checked := p.Stats()
			out := struct {
				Path    string     `json:"path"`
				Total   int        `json:"total"`
				Checked int        `json:"checked"`
				Items   []jsonItem `json:"items"`
			}{Path: pp, Total: total, Checked: checked}
			for _, item := range p.Items {
				out.Items = append(out.Items, jsonItem{Text: item.Text, Checked: item.Checked, Line: item.Line})
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(data))
			return
		}

		total, checked := p.Stats()
		bold := color.New(color.Bold).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()

		fmt.Printf("\n%s %d/%d checked (%s)\n\n", bold("plan"), checked, total, cfg.Files.Plan)
		for _, item := range p.Items {
			if item.Checked {
				fmt.Printf("  %s %s\n", green("[x]"), item.Text)
			} else {
				fmt.Printf("  [ ] %s\n", item.Text)
			}
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().BoolVar(&planJSON, "json", false, "emit the plan as JSON")
}
