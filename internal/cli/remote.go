package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moforw/albaum/internal/client"
)

// The remote variants go through a running server, which owns the journal.

func remoteAdd(cmd *cobra.Command, args []string) error {
	f, err := client.New(serverURL).Store(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %q (v%d)\n", f.Text, f.Version)
	return nil
}

func remoteSearch(cmd *cobra.Command, args []string) error {
	groups, err := client.New(serverURL).Search(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(groups) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	for _, g := range groups {
		indent := ""
		if !g.Single {
			fmt.Fprintf(out, "%s (%d)\n", g.Key, len(g.Facts))
			indent = "  "
		}
		for _, f := range g.Facts {
			if f.CreatedAt == "" {
				fmt.Fprintf(out, "%s%s\n", indent, f.Text)
			} else {
				fmt.Fprintf(out, "%s%s  [%s]\n", indent, f.Text, f.CreatedAt)
			}
		}
	}
	return nil
}

func remoteRm(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if err := client.New(serverURL).Delete(cmd.Context(), text); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %q\n", text)
	return nil
}

func remoteEdit(cmd *cobra.Command, args []string) error {
	g, err := client.New(serverURL).Edit(cmd.Context(), strings.Join(args, " "), editTo)
	if err != nil {
		return fmt.Errorf("edit: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %q (v%d)\n", g.Text, g.Version)
	return nil
}
