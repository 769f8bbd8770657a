package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moforw/albaum/internal/index"
)

var addCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Store a fact",
	Long: "Store a fact. \"#done x\" completes the todo item \"#todo x\"; " +
		"\"#caption\", \"#font\", \"#font-size\" and \"#time-format\" facts replace the current setting.",
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

func runAdd(cmd *cobra.Command, args []string) error {
	if serverURL != "" {
		return remoteAdd(cmd, args)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := a.engine.Store(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %q (v%d)\n", f.Text, f.Version)
	return nil
}

// --- search command ---

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search facts",
	Long:  "Search facts by fragments of their text. Tokens may be partial, skipped or out of order.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	if serverURL != "" {
		return remoteSearch(cmd, args)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	groups, err := a.engine.Search(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(groups) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}

	clock := a.engine.Main().Clock()
	for _, g := range groups {
		if g.Single() {
			printFact(out, "", clock.Format(g.Facts[0].CreatedAt), g.Facts[0])
			continue
		}
		fmt.Fprintf(out, "%s (%d)\n", g.Key, len(g.Facts))
		for _, f := range g.Facts {
			printFact(out, "  ", clock.Format(f.CreatedAt), f)
		}
	}
	return nil
}

func printFact(w io.Writer, indent, at string, f *index.Fact) {
	if at == "" {
		fmt.Fprintf(w, "%s%s\n", indent, f.Text)
		return
	}
	fmt.Fprintf(w, "%s%s  [%s]\n", indent, f.Text, at)
}

// --- find command ---

var findCmd = &cobra.Command{
	Use:   "find [key]",
	Short: "List facts indexed under a key",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFind,
}

func runFind(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	facts := a.engine.Main().Root().FindAllFacts(strings.Join(args, " "))
	out := cmd.OutOrStdout()
	if len(facts) == 0 {
		fmt.Fprintln(out, "No facts found.")
		return nil
	}
	clock := a.engine.Main().Clock()
	for _, f := range facts {
		printFact(out, "", clock.Format(f.CreatedAt), f)
	}
	return nil
}

// --- rm command ---

var rmCmd = &cobra.Command{
	Use:   "rm [text]",
	Short: "Delete the fact with exactly this text",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRm,
}

func runRm(cmd *cobra.Command, args []string) error {
	if serverURL != "" {
		return remoteRm(cmd, args)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := a.lookup(strings.Join(args, " "))
	if err != nil {
		return err
	}
	if err := a.engine.Delete(cmd.Context(), f); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %q\n", f.Text)
	return nil
}

// --- edit command ---

var editTo string

var editCmd = &cobra.Command{
	Use:   "edit [text] --to [new text]",
	Short: "Replace a fact with a new version",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEdit,
}

func init() {
	editCmd.Flags().StringVar(&editTo, "to", "", "new text")
	editCmd.MarkFlagRequired("to")
}

func runEdit(cmd *cobra.Command, args []string) error {
	if serverURL != "" {
		return remoteEdit(cmd, args)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := a.lookup(strings.Join(args, " "))
	if err != nil {
		return err
	}
	g, err := a.engine.Edit(cmd.Context(), f, editTo)
	if err != nil {
		return fmt.Errorf("edit: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %q (v%d)\n", g.Text, g.Version)
	return nil
}

// --- dump command ---

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the index tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		return a.engine.Main().Dump(cmd.OutOrStdout())
	},
}
