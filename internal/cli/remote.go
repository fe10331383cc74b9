package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cod31nvictus/eterny/client"
	"github.com/cod31nvictus/eterny/server"
	"github.com/cod31nvictus/eterny/server/recurrence"
	"github.com/emersion/go-ical"
	"github.com/spf13/cobra"
)

// ClientOptions holds the connection flags of commands that talk to a
// running server.
type ClientOptions struct {
	*RootOptions
	Server   string
	Username string
	Password string
}

func addClientFlags(cmd *cobra.Command, opts *ClientOptions) {
	cmd.Flags().StringVar(&opts.Server, "server", "http://127.0.0.1:8080", "server base URL")
	cmd.Flags().StringVarP(&opts.Username, "user", "u", os.Getenv("ETERNY_USER"), "username (default $ETERNY_USER)")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password (default $ETERNY_PASSWORD)")
}

func (o *ClientOptions) client() (*client.Client, error) {
	password := o.Password
	if password == "" {
		password = os.Getenv("ETERNY_PASSWORD")
	}
	if o.Username == "" {
		return nil, WrapExitError(ExitCommandError, "missing credentials", fmt.Errorf("--user or ETERNY_USER is required"))
	}
	c, err := client.New(o.Server, o.Username, password)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid server", err)
	}
	return c, nil
}

// NewOccurrencesCommand creates the occurrences command.
func NewOccurrencesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClientOptions{RootOptions: rootOpts}
	var start, end string

	cmd := &cobra.Command{
		Use:   "occurrences",
		Short: "List the resolved schedule for a date range",
		Example: `  eterny occurrences -u alice --start 2024-01-01 --end 2024-01-31
  eterny occurrences -u alice --start 2024-01-01 --end 2024-01-07 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseDateFlag("start", start)
			if err != nil {
				return err
			}
			to, err := parseDateFlag("end", end)
			if err != nil {
				return err
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			days, err := c.Occurrences(cmd.Context(), from, to)
			if err != nil {
				return WrapExitError(ExitFailure, "query failed", err)
			}
			return writeDays(cmd.OutOrStdout(), opts.Format, days)
		},
	}
	addClientFlags(cmd, opts)
	cmd.Flags().StringVar(&start, "start", "", "first date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&end, "end", "", "last date, YYYY-MM-DD (required)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

// NewAssignCommand creates the assign command.
func NewAssignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClientOptions{RootOptions: rootOpts}
	var templateID, start, end, rule, notes string

	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a template to a date, optionally recurring",
		Example: `  eterny assign -u alice --template push --start 2024-01-01
  eterny assign -u alice --template push --start 2024-01-01 --rule '{"type":"weekly","daysOfWeek":[1,4]}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := server.AssignRequest{TemplateID: templateID, Notes: notes}
			var err error
			if req.StartDate, err = parseDateFlag("start", start); err != nil {
				return err
			}
			if end != "" {
				d, err := parseDateFlag("end", end)
				if err != nil {
					return err
				}
				req.EndDate = &d
			}
			if rule != "" {
				var r recurrence.Recurrence
				if err := json.Unmarshal([]byte(rule), &r); err != nil {
					return WrapExitError(ExitCommandError, "invalid --rule", err)
				}
				req.Recurrence = &r
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			s, err := c.Assign(cmd.Context(), req)
			if err != nil {
				return WrapExitError(ExitFailure, "assign failed", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created series %s (version %d)\n", s.ID, s.Version)
			return nil
		},
	}
	addClientFlags(cmd, opts)
	cmd.Flags().StringVarP(&templateID, "template", "t", "", "template id (required)")
	cmd.Flags().StringVar(&start, "start", "", "start date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&end, "end", "", "optional end date, YYYY-MM-DD")
	cmd.Flags().StringVar(&rule, "rule", "", "recurrence rule as JSON")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClientOptions{RootOptions: rootOpts}
	var seriesID string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export series as iCalendar",
		Example: `  eterny export -u alice > schedule.ics
  eterny export -u alice --series 3f0c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			var cal *ical.Calendar
			if seriesID != "" {
				cal, err = c.ExportSeries(cmd.Context(), seriesID)
			} else {
				cal, err = c.ExportCalendar(cmd.Context())
			}
			if err != nil {
				return WrapExitError(ExitFailure, "export failed", err)
			}
			if err := ical.NewEncoder(cmd.OutOrStdout()).Encode(cal); err != nil {
				return WrapExitError(ExitFailure, "encode calendar", err)
			}
			return nil
		},
	}
	addClientFlags(cmd, opts)
	cmd.Flags().StringVar(&seriesID, "series", "", "export one series instead of the whole calendar")
	return cmd
}

func parseDateFlag(name, value string) (recurrence.Date, error) {
	d, err := recurrence.ParseDate(value)
	if err != nil {
		return recurrence.Date{}, WrapExitError(ExitCommandError, "invalid --"+name, err)
	}
	return d, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeDays(w io.Writer, format string, days []server.DayResponse) error {
	if format == "json" {
		return writeJSON(w, days)
	}
	if len(days) == 0 {
		fmt.Fprintln(w, "no occurrences")
		return nil
	}
	for _, day := range days {
		parts := make([]string, 0, len(day.Occurrences))
		for _, occ := range day.Occurrences {
			parts = append(parts, fmt.Sprintf("%s (%s)", occ.TemplateID, occ.SeriesID))
		}
		fmt.Fprintf(w, "%s %s  %s\n", day.Date, day.Date.Weekday().String()[:3], strings.Join(parts, ", "))
	}
	return nil
}
