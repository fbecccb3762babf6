package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/robertobartola/mybackrec/internal/storage"

	"github.com/spf13/cobra"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage saved recordings",
}

var filesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved recordings, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := storage.New(cfg.Output.Directory, cfg.Output.Prefix, cfg.Output.TimestampLayout)
		files, err := store.List()
		if err != nil {
			return err
		}

		fmt.Printf("=== RECORDINGS (%s) ===\n", store.Dir())
		if len(files) == 0 {
			fmt.Println("No recordings yet.")
			return nil
		}
		for _, f := range files {
			fmt.Printf("%-40s %10s  %s\n", f.Name, f.SizeHuman, f.ModTimeHuman)
		}
		return nil
	},
}

var filesExportCmd = &cobra.Command{
	Use:   "export [directory]",
	Short: "Copy all saved recordings into a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := storage.New(cfg.Output.Directory, cfg.Output.Prefix, cfg.Output.TimestampLayout)
		copied, err := store.ExportAll(args[0])
		if err != nil {
			return fmt.Errorf("export failed after %d files: %w", copied, err)
		}
		fmt.Printf("Exported %d recordings to %s\n", copied, args[0])

		if purge, _ := cmd.Flags().GetBool("purge"); purge {
			deleted, err := store.PurgeExported(args[0])
			if err != nil {
				return fmt.Errorf("purge failed after %d files: %w", deleted, err)
			}
			fmt.Printf("Deleted %d exported recordings from %s\n", deleted, store.Dir())
		}
		return nil
	},
}

var filesDeleteCmd = &cobra.Command{
	Use:     "delete [name...]",
	Aliases: []string{"rm"},
	Short:   "Delete saved recordings by file name",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := storage.New(cfg.Output.Directory, cfg.Output.Prefix, cfg.Output.TimestampLayout)
		for _, name := range args {
			if err := store.Delete(name); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", name)
		}
		return nil
	},
}

var filesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all saved recordings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := storage.New(cfg.Output.Directory, cfg.Output.Prefix, cfg.Output.TimestampLayout)

		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			files, err := store.List()
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Println("No recordings to delete.")
				return nil
			}
			fmt.Printf("Delete all %d recordings in %s? [y/N] ", len(files), store.Dir())
			if !confirmed(os.Stdin) {
				fmt.Println("Aborted.")
				return nil
			}
		}

		deleted, err := store.DeleteAll()
		if err != nil {
			return fmt.Errorf("clear failed after %d files: %w", deleted, err)
		}
		fmt.Printf("Deleted %d recordings\n", deleted)
		return nil
	},
}

// confirmed reads one line and reports whether it is a yes.
func confirmed(r io.Reader) bool {
	line, _ := bufio.NewReader(r).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

func init() {
	filesCmd.AddCommand(filesListCmd)
	filesCmd.AddCommand(filesExportCmd)
	filesCmd.AddCommand(filesDeleteCmd)
	filesCmd.AddCommand(filesClearCmd)

	filesExportCmd.Flags().Bool("purge", false, "delete recordings once they are copied")
	filesClearCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
}
