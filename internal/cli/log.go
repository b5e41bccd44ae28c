package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/store"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Database string
	Branch   string // only versions on this branch (by name or id)
}

// VersionEntry is one version in the log output.
type VersionEntry struct {
	ID        string   `json:"id"`
	ParentID  string   `json:"parent_id,omitempty"`
	Branch    string   `json:"branch"`
	Timestamp string   `json:"timestamp"`
	Author    string   `json:"author,omitempty"`
	Message   string   `json:"message,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Entities  int      `json:"entities"`
	Relations int      `json:"relations"`
	Checksum  string   `json:"checksum"`
}

// BranchEntry is one branch in the log output.
type BranchEntry struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	FromVersionID string `json:"from_version_id"`
	CreatedAt     string `json:"created_at"`
}

// LogResult holds the version history.
type LogResult struct {
	Versions []VersionEntry `json:"versions"`
	Branches []BranchEntry  `json:"branches"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show stored versions and branches",
		Long: `List the versions stored in the database, oldest first, followed by
the branches.

Examples:
  strata log --db ./strata.db
  strata log --db ./strata.db --branch feature
  strata log --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Branch, "branch", "", "show only versions on this branch")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := opts.formatter(cmd)

	st, err := openExistingStore(opts.database(opts.Database), store.WithLogger(opts.Logger(cmd.ErrOrStderr())))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to open database", err)
	}
	defer st.Close()

	versions, err := st.ReadVersions(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to read versions", err)
	}
	branches, err := st.ReadBranches(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "failed to read branches", err)
	}

	names := make(map[string]string, len(branches))
	result := LogResult{
		Versions: []VersionEntry{},
		Branches: make([]BranchEntry, 0, len(branches)),
	}
	for _, b := range branches {
		names[b.ID] = b.Name
		result.Branches = append(result.Branches, BranchEntry{
			ID:            b.ID,
			Name:          b.Name,
			FromVersionID: b.FromVersionID,
			CreatedAt:     b.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	for _, v := range versions {
		branch := names[v.BranchID]
		if branch == "" {
			branch = v.BranchID
		}
		if opts.Branch != "" && opts.Branch != branch && opts.Branch != v.BranchID {
			continue
		}
		result.Versions = append(result.Versions, versionEntry(v, branch))
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	writeLogText(formatter, result)
	return nil
}

func versionEntry(v ir.Version, branch string) VersionEntry {
	snap := v.Snapshot()
	return VersionEntry{
		ID:        v.ID,
		ParentID:  v.ParentID,
		Branch:    branch,
		Timestamp: v.Timestamp.UTC().Format(time.RFC3339Nano),
		Author:    v.Metadata.Author,
		Message:   v.Metadata.Message,
		Tags:      v.Metadata.Tags,
		Entities:  len(snap.Entities),
		Relations: len(snap.Relations),
		Checksum:  v.Checksum(),
	}
}

func writeLogText(formatter *OutputFormatter, result LogResult) {
	w := formatter.Writer
	if len(result.Versions) == 0 {
		fmt.Fprintln(w, "No versions.")
	}
	for _, v := range result.Versions {
		fmt.Fprintf(w, "version %s (%s)\n", v.ID, v.Branch)
		if v.ParentID != "" {
			fmt.Fprintf(w, "  parent:  %s\n", v.ParentID)
		}
		fmt.Fprintf(w, "  date:    %s\n", v.Timestamp)
		if v.Author != "" {
			fmt.Fprintf(w, "  author:  %s\n", v.Author)
		}
		if len(v.Tags) > 0 {
			fmt.Fprintf(w, "  tags:    %s\n", strings.Join(v.Tags, ", "))
		}
		fmt.Fprintf(w, "  state:   %d entities, %d relations\n", v.Entities, v.Relations)
		if formatter.Verbose {
			fmt.Fprintf(w, "  sum:     %s\n", v.Checksum)
		}
		if v.Message != "" {
			fmt.Fprintf(w, "\n    %s\n", v.Message)
		}
		fmt.Fprintln(w)
	}

	if len(result.Branches) > 0 {
		fmt.Fprintln(w, "Branches:")
		for _, b := range result.Branches {
			fmt.Fprintf(w, "  %s (%s) from %s\n", b.Name, b.ID, b.FromVersionID)
		}
	}
}
