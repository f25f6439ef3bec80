package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/hupe1980/numindex"
	"github.com/hupe1980/numindex/layout"
	"github.com/spf13/cobra"
)

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [path]",
		Short: "Print the persisted state of an index file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ix, err := a.open(args[0], false)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, ix.close()) }()

			info, err := ix.Info()
			if err != nil {
				return err
			}
			r, err := ix.NewReader()
			if err != nil {
				return err
			}
			defer r.Close()
			sample := r.Sample()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 1, ' ', 0)
			fmt.Fprintf(w, "path:\t%s\n", info.Path)
			fmt.Fprintf(w, "unique:\t%t\n", info.Unique)
			fmt.Fprintf(w, "generation:\t%d\n", info.Generation)
			fmt.Fprintf(w, "clean shutdown:\t%t\n", info.WasClean)
			fmt.Fprintf(w, "codec:\t%s\n", info.Codec)
			fmt.Fprintf(w, "data pages:\t%d (first %d)\n", info.PageCount, info.FirstPage)
			fmt.Fprintf(w, "data bytes:\t%d\n", info.DataBytes)
			fmt.Fprintf(w, "entries:\t%d\n", sample.IndexSize)
			fmt.Fprintf(w, "unique values:\t%d\n", sample.UniqueValues)
			return w.Flush()
		},
	}
}

func parseBound(s string) (layout.Number, error) {
	if s == "" {
		return layout.Number{}, nil
	}
	return layout.Parse(s)
}

func newScanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Print entries in value order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			from, err := parseBound(a.v.GetString("from"))
			if err != nil {
				return err
			}
			to, err := parseBound(a.v.GetString("to"))
			if err != nil {
				return err
			}
			limit := a.v.GetInt("limit")

			ix, err := a.open(args[0], false)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, ix.close()) }()

			r, err := ix.NewReader()
			if err != nil {
				return err
			}
			defer r.Close()

			it := r.Range(numindex.RangeBetween(from, true, to, !a.v.GetBool("exclusive-to")))
			defer it.Close()

			out := cmd.OutOrStdout()
			for n := 0; limit <= 0 || n < limit; n++ {
				id, ok := it.Next()
				if !ok {
					break
				}
				fmt.Fprintf(out, "%s\t%d\n", it.Value(), id)
			}
			return nil
		},
	}
	cmd.Flags().String("from", "", wrapString("Lowest value to print, inclusive. Empty means unbounded"))
	cmd.Flags().String("to", "", wrapString("Highest value to print, inclusive. Empty means unbounded"))
	cmd.Flags().Bool("exclusive-to", false, wrapString("Exclude the --to value itself"))
	cmd.Flags().Int("limit", 0, wrapString("Stop after this many entries. 0 prints all"))
	return cmd
}

func newLookupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup [path] [value]",
		Short: "Print the entities indexed under a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			v, err := layout.Parse(args[1])
			if err != nil {
				return err
			}

			ix, err := a.open(args[0], false)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, ix.close()) }()

			r, err := ix.NewReader()
			if err != nil {
				return err
			}
			defer r.Close()

			out := cmd.OutOrStdout()
			it := r.Lookup(v).Iterator()
			for it.HasNext() {
				fmt.Fprintln(out, it.Next())
			}
			return nil
		},
	}
}

func parseMode(s string) (numindex.UpdateMode, error) {
	switch s {
	case "online":
		return numindex.UpdateOnline, nil
	case "online-idempotent":
		return numindex.UpdateOnlineIdempotent, nil
	case "recovery":
		return numindex.UpdateRecovery, nil
	default:
		return 0, fmt.Errorf("invalid mode %s", s)
	}
}

// parseEntry reads "entity=value".
func parseEntry(arg string) (uint64, layout.Number, error) {
	idStr, valStr, ok := strings.Cut(arg, "=")
	if !ok {
		return 0, layout.Number{}, fmt.Errorf("entry must be entity=value: %q", arg)
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, layout.Number{}, fmt.Errorf("entity must be a number: %w", err)
	}
	v, err := layout.Parse(valStr)
	if err != nil {
		return 0, layout.Number{}, err
	}
	return id, v, nil
}

func newInsertCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insert [path] [entity=value]...",
		Short: "Apply updates and checkpoint the index",
		Long: wrapString(`Adds every entity=value argument and removes every --remove
entry in one updater session, then forces a checkpoint. The file is
created if missing.`),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			mode, err := parseMode(a.v.GetString("mode"))
			if err != nil {
				return err
			}
			var updates []numindex.IndexEntryUpdate
			for _, arg := range a.v.GetStringSlice("remove") {
				id, v, err := parseEntry(arg)
				if err != nil {
					return err
				}
				updates = append(updates, numindex.Remove(id, v))
			}
			for _, arg := range args[1:] {
				id, v, err := parseEntry(arg)
				if err != nil {
					return err
				}
				updates = append(updates, numindex.Add(id, v))
			}
			if len(updates) == 0 {
				return errors.New("nothing to apply")
			}

			ix, err := a.open(args[0], true)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, ix.close()) }()

			u, err := ix.NewUpdater(mode)
			if err != nil {
				return err
			}
			for _, up := range updates {
				if err := u.Process(up); err != nil {
					return errors.Join(err, u.Close())
				}
			}
			if err := u.Close(); err != nil {
				return err
			}
			if err := ix.Force(nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d updates\n", len(updates))
			return nil
		},
	}
	cmd.Flags().String("mode", "online", wrapString("Update mode (online, online-idempotent, recovery)"))
	cmd.Flags().StringSlice("remove", nil, wrapString("Entry to remove, as entity=value. Repeatable"))
	return cmd
}
