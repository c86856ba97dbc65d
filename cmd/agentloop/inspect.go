package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"agentloop/internal/backlog"
	"agentloop/internal/config"
	"agentloop/internal/loop"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <agent.yaml>",
		Short: "Check an agent definition without running it",
		Long: `Load an agent definition, apply AGENTLOOP_* environment overrides and
report every problem found. Prints a short summary when it is valid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := config.LoadFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := def.LoopConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			printDefinition(cmd.OutOrStdout(), def)
			return nil
		},
	}
}

func printDefinition(w io.Writer, def *config.Definition) {
	writef(w, "%s: ok\n", def.Name)
	writef(w, "  task file:      %s\n", def.TaskPath())
	writef(w, "  timeout:        %s\n", def.Timeout)
	writef(w, "  max iterations: %d\n", def.MaxIterations)
	writef(w, "  push every:     %d commits (remote %s)\n", def.PushEvery, def.Push.Remote)
	if s := def.Supervisor; s != nil {
		every := s.Every
		if every <= 0 {
			every = def.PushEvery
		}
		writef(w, "  supervisor:     every %d commits\n", every)
	}
	if def.Generate != nil {
		writef(w, "  generate:       yes\n")
	} else {
		writef(w, "  generate:       no (halts on an empty backlog)\n")
	}
	if def.Continuous {
		writef(w, "  continuous:     restart after %s\n", def.RestartDelayDuration())
	}

	ids := make([]string, 0)
	for id := range def.ProviderTable() {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	writef(w, "  providers:      %v\n", ids)
}

func newBacklogCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "backlog <file>",
		Short: "Print the parsed state of a task file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := backlog.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printSnapshot(out, snap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func printSnapshot(w io.Writer, snap *backlog.Snapshot) {
	writef(w, "%s: %d pending, %d done\n", snap.Path, snap.Pending(), snap.Done())
	if next, ok := snap.Next(); ok {
		writef(w, "next: %s", next.Text)
		if next.Section != "" {
			writef(w, " [%s]", next.Section)
		}
		writef(w, " (line %d)\n", next.Line)
	} else {
		writef(w, "next: none\n")
	}

	section := ""
	for _, it := range snap.Items {
		if it.Section != section {
			section = it.Section
			writef(w, "\n%s\n", section)
		}
		mark := " "
		if it.Done {
			mark = "x"
		}
		writef(w, "  [%s] %s\n", mark, it.Text)
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [file]",
		Short: "Print the status file of a running or finished loop",
		Long: fmt.Sprintf(`Print the status file a loop maintains while it runs. Defaults to
%s in the current directory.`, loop.DefaultStatusFile),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := loop.DefaultStatusFile
			if len(args) == 1 {
				path = args[0]
			}
			status, err := loop.NewStatusWriter(path).Read()
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func printStatus(w io.Writer, s loop.Status) {
	writef(w, "%s (%s) %s\n", s.Name, s.RunID, s.State)
	writef(w, "  iteration %d/%d, %d pending, %d done\n", s.Iteration, s.MaxIterations, s.Pending, s.Done)
	if s.NextTodo != "" {
		writef(w, "  next: %s\n", s.NextTodo)
	}
	if c := s.Current; c != nil {
		writef(w, "  running %s session for %s", c.Kind, time.Since(c.Started).Round(time.Second))
		if c.Tool != "" {
			writef(w, " (%s)", c.Tool)
		}
		writef(w, "\n")
	}
	writef(w, "  commits: %d (%d since last supervision)\n", s.Commits, s.CommitsSinceLastSupervision)
	if s.LastCommit != "" {
		writef(w, "  last commit: %s\n", s.LastCommit)
	}
	t := s.Tallies
	writef(w, "  sessions: %d completed, %d timed out, %d failed; %d supervisions, %d pushes\n",
		t.Completed, t.TimedOut, t.Failed, t.Supervisions, t.Pushes)
	writef(w, "  elapsed: %s\n", time.Duration(s.Elapsed).Round(time.Second))
	if s.Terminal != nil {
		writef(w, "  terminal: %s (%s)\n", *s.Terminal, s.Reason)
	} else if s.State == "aborted" {
		writef(w, "  aborted: %s\n", s.Reason)
	}
}

// writef writes formatted output, ignoring errors.
func writef(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
