package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/formexport/internal/export"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		formID   string
		typ      string
		format   string
		template string
		version  int
		columns  []string
		minDate  string
		maxDate  string
		deleted  bool
		drafts   bool
		output   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a form's submissions to a file or stdout",
		Example: `  formexport export --form 4f1c... --format csv --template unflattened
  formexport export --form 4f1c... --format json --min-date 2024-01-01 -o -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			q.Set("type", typ)
			q.Set("format", format)
			q.Set("template", template)
			if cmd.Flags().Changed("version") {
				q.Set("version", strconv.Itoa(version))
			}
			if len(columns) > 0 {
				q.Set("columns", strings.Join(columns, ","))
			}
			if minDate != "" || maxDate != "" {
				q.Set("preference", fmt.Sprintf(`{"minDate":%q,"maxDate":%q}`, minDate, maxDate))
			}
			q.Set("deleted", strconv.FormatBool(deleted))
			q.Set("drafts", strconv.FormatBool(drafts))

			req, err := export.ParseParams(q)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rt, err := openRuntime(ctx, a.cfg)
			defer rt.Close()
			if err != nil {
				return err
			}

			res, err := rt.service.Export(ctx, formID, req)
			if err != nil {
				return err
			}

			if output == "-" {
				_, err := cmd.OutOrStdout().Write(res.Data)
				return err
			}
			if output == "" {
				output = res.Filename
			}
			if err := os.WriteFile(output, res.Data, 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			slog.Info("export written", "file", output, "bytes", len(res.Data))
			fmt.Fprintln(cmd.ErrOrStderr(), output)
			return nil
		},
	}

	cmd.Flags().StringVar(&formID, "form", "", "Form id (required)")
	cmd.Flags().StringVar(&typ, "type", string(export.TypeSubmissions), "Export type")
	cmd.Flags().StringVar(&format, "format", string(export.FormatCSV), "Output format: csv or json")
	cmd.Flags().StringVar(&template, "template", string(export.TemplateFilled),
		"CSV layout: flattenedWithFilled, flattenedWithBlankOut or unflattened")
	cmd.Flags().IntVar(&version, "version", 0, "Form version (default: latest)")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Data columns to include in CSV output")
	cmd.Flags().StringVar(&minDate, "min-date", "", "Only submissions created at or after this date")
	cmd.Flags().StringVar(&maxDate, "max-date", "", "Only submissions created before this date")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "Export deleted submissions instead of active ones")
	cmd.Flags().BoolVar(&drafts, "drafts", false, "Export drafts instead of submitted forms")
	cmd.Flags().StringVarP(&output, "output", "o", "", `Output file, "-" for stdout (default: the export's file name)`)
	_ = cmd.MarkFlagRequired("form")

	return cmd
}
