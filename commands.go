package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"filing-engine/internal/model"
	"filing-engine/internal/pricing"
	"filing-engine/internal/questions"
	"filing-engine/internal/schema"
)

func priceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "price <filing.json>",
		Short: "Price a filing document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read filing: %w", err)
			}
			var f model.Filing
			if err := json.Unmarshal(data, &f); err != nil {
				return fmt.Errorf("failed to parse filing: %w", err)
			}
			if f.Year == 0 {
				f.Year = cfg.Schemas.DefaultYear
			}

			schemas, err := loadSchemas(cfg.Schemas)
			if err != nil {
				return err
			}
			sc, err := schemas.Get(f.Year, f.Type)
			if err != nil && !errors.Is(err, schema.ErrSchemaNotFound) {
				return err
			}
			b := pricing.Calculate(&f, sc, cfg.Legacy)

			out, err := json.MarshalIndent(b, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func sectionsCmd() *cobra.Command {
	var (
		year        int
		filingType  string
		role        string
		answersPath string
	)
	cmd := &cobra.Command{
		Use:   "sections",
		Short: "List the sections a filer sees",
		RunE: func(cmd *cobra.Command, args []string) error {
			ft, ok := model.ParseFilingType(filingType)
			if !ok {
				return fmt.Errorf("invalid filing type %q", filingType)
			}
			r, ok := model.ParseRole(role)
			if !ok {
				return fmt.Errorf("invalid role %q", role)
			}
			data := model.FormData{}
			if answersPath != "" {
				raw, err := os.ReadFile(answersPath)
				if err != nil {
					return fmt.Errorf("failed to read answers: %w", err)
				}
				if err := json.Unmarshal(raw, &data); err != nil {
					return fmt.Errorf("failed to parse answers: %w", err)
				}
			}
			if year == 0 {
				year = cfg.Schemas.DefaultYear
			}

			schemas, err := loadSchemas(cfg.Schemas)
			if err != nil {
				return err
			}
			sc, err := schemas.Get(year, ft)
			if err != nil {
				return err
			}

			sections := questions.SectionsForRole(sc, r, data)
			progress := questions.Progress(sections, data)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tSTEP\tTITLE\tANSWERED")
			for i, p := range progress {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d/%d\n", i, p.StepID, p.Title, p.Answered, p.Visible)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "tax year (default from config)")
	cmd.Flags().StringVar(&filingType, "type", "INDIVIDUAL", "filing type")
	cmd.Flags().StringVar(&role, "role", "primary", "filer role")
	cmd.Flags().StringVar(&answersPath, "answers", "", "JSON file with the filer's answers")
	return cmd
}

func validateSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-schema <dir>",
		Short: "Check the schema files in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemas, err := schema.LoadDir(args[0])
			if err != nil {
				return err
			}
			store := schema.NewStore(cfg.Schemas.DefaultYear, logger)
			findings := 0
			for _, sc := range schemas {
				if err := store.Put(sc); err != nil {
					return err
				}
				for _, f := range sc.Lint() {
					findings++
					fmt.Fprintf(cmd.OutOrStdout(), "%d/%s: %s\n", sc.Year, sc.FilingType, f)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d schema(s), %d finding(s)\n", len(schemas), findings)
			return nil
		},
	}
}
