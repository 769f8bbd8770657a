package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Rewrite the journal to its live facts",
	Long: "Rewrite the journal so it holds one record per live fact. The previous " +
		"records are kept in a zstd-compressed archive next to the journal.",
	RunE: runCompact,
}

func archivePath(dir, journal string, now time.Time) string {
	if dir == "" {
		dir = filepath.Dir(journal)
	}
	name := fmt.Sprintf("%s.%s.jsonl.zst", filepath.Base(journal), now.Format("20060102-150405"))
	return filepath.Join(dir, name)
}

func runCompact(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	path := archivePath(a.cfg.Journal.ArchiveDir, a.cfg.Journal.Path, time.Now())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	stats, err := a.journal.Compact(cmd.Context(), f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close archive: %w", cerr)
	}
	if err != nil {
		os.Remove(path)
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "compacted %d records to %d, archive %s\n", stats.Before, stats.After, path)
	return nil
}
