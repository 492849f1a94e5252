package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kingrea/persona/internal/fault"
	"github.com/kingrea/persona/internal/orchestrator"
)

var analyzeFlags struct {
	name      string
	dob       string
	gender    string
	attach    []string
	extended  bool
	save      bool
	saveAudio bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Request a report for a subject and print it",
	Example: `  persona analyze --name Anna --dob 17.05.2000
  persona analyze --name Anna --dob 2000-05-17 --attach notes.txt --attach https://example.com/me --extended --save`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := openRuntime(ctx, projectDir)
		if err != nil {
			return err
		}
		defer rt.Close()
		out := cmd.OutOrStdout()
		warn := cmd.ErrOrStderr()

		f := analyzeFlags
		if err := rt.session.SetSubjectFields(f.name, f.dob, f.gender); err != nil {
			return err
		}
		res, err := rt.session.Analyze(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, res.Text)
		if res.AudioErr != nil {
			fmt.Fprintf(warn, "warning: %s\n", fault.Message(res.AudioErr))
		}

		for _, source := range f.attach {
			rec, err := rt.session.AddSource(ctx, source)
			if err != nil {
				return err
			}
			fmt.Fprintf(warn, "attached %s\n", rec.DisplayName)
		}
		kind := orchestrator.ReportPrimary
		if f.extended {
			ext, err := rt.session.AnalyzeExtended(ctx)
			if err != nil {
				return err
			}
			kind = orchestrator.ReportExtended
			fmt.Fprintln(out, strings.Repeat("─", 40))
			fmt.Fprintln(out, ext.Text)
			for _, e := range []error{ext.Partial, ext.AudioErr} {
				if e != nil {
					fmt.Fprintf(warn, "warning: %s\n", fault.Message(e))
				}
			}
		}

		if f.save {
			location, err := rt.session.ExportReport(ctx, kind)
			if err != nil {
				return err
			}
			fmt.Fprintf(warn, "report saved to %s\n", location)
		}
		if f.saveAudio {
			location, err := rt.session.DownloadAudio(ctx, "")
			if err != nil {
				return err
			}
			fmt.Fprintf(warn, "audio saved to %s\n", location)
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether the report service is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context(), projectDir)
		if err != nil {
			return err
		}
		defer rt.Close()
		health, err := rt.session.Health(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "service   %s (%s)\n", rt.session.ServiceURL(), health.Status)
		fmt.Fprintf(out, "analysis  %s\n", yesNo(health.AnalysisAvailable))
		fmt.Fprintf(out, "chat      %s\n", yesNo(health.LanguageAvailable))
		fmt.Fprintf(out, "speech    %s\n", yesNo(health.SpeechAvailable))
		if !health.OK() {
			return fmt.Errorf("service reported status %q", health.Status)
		}
		return nil
	},
}

func yesNo(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}

func init() {
	flags := analyzeCmd.Flags()
	flags.StringVar(&analyzeFlags.name, "name", "", "subject name")
	flags.StringVar(&analyzeFlags.dob, "dob", "", "date of birth, 17.05.2000 or 2000-05-17")
	flags.StringVar(&analyzeFlags.gender, "gender", "female", "female or male")
	flags.StringArrayVar(&analyzeFlags.attach, "attach", nil, "file path or link to use in the extended report (repeatable)")
	flags.BoolVar(&analyzeFlags.extended, "extended", false, "also build the extended report from attachments")
	flags.BoolVar(&analyzeFlags.save, "save", false, "save the last report to the export destination")
	flags.BoolVar(&analyzeFlags.saveAudio, "save-audio", false, "save the last voiced clip to the export destination")
	_ = analyzeCmd.MarkFlagRequired("name")
	_ = analyzeCmd.MarkFlagRequired("dob")
}
