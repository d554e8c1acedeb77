package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"proglog/pkg/transcript"
)

type renderOptions struct {
	UTC      bool
	Commands bool
}

var opts renderOptions

var rootCmd = &cobra.Command{
	Use:   "proglog-cat [flags] [TRANSCRIPT...]",
	Short: "Print proglog transcripts with readable timestamps",
	Long: `proglog-cat decodes the TAI64N labels of one or more transcripts and prints
each record as an RFC 3339 timestamp followed by the recorded line. Without
arguments it reads ./transcript; "-" reads standard input.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = []string{"transcript"}
		}
		out := cmd.OutOrStdout()
		for _, path := range args {
			if err := renderPath(out, path, opts); err != nil {
				return err
			}
		}
		return nil
	},
}

func renderPath(w io.Writer, path string, opts renderOptions) error {
	if path == "-" {
		return render(w, os.Stdin, opts)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer func() { _ = f.Close() }()
	if err := render(w, f, opts); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// render writes one line per record. Records before a malformed one are
// still printed.
func render(w io.Writer, r io.Reader, opts renderOptions) error {
	records := transcript.NewReader(r).Channel()
	n := 0
	for rec := range records {
		n++
		if rec.Error != nil {
			return fmt.Errorf("record %d: %w", n, rec.Error)
		}
		if opts.Commands && !rec.IsCommand() {
			continue
		}
		ts := rec.Timestamp
		if opts.UTC {
			ts = ts.UTC()
		} else {
			ts = ts.Local()
		}
		if _, err := fmt.Fprintf(w, "%s %s\n", ts.Format(time.RFC3339Nano), rec.Text()); err != nil {
			// let the reader goroutine finish
			for range records {
			}
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.Flags().BoolVar(&opts.UTC, "utc", false, "Print timestamps in UTC instead of local time")
	rootCmd.Flags().BoolVar(&opts.Commands, "commands", false, "Print only the command records that start each session")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "proglog-cat: %v\n", err)
		os.Exit(1)
	}
}
