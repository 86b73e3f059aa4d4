// Tern CLI - loads compiled packages into a VM and runs them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/tern/manifest"
	"github.com/chazu/tern/vm"
)

var (
	flagPaths   []string
	flagStore   string
	flagVerbose int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tern",
		Short: "The Tern virtual machine",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			commonlog.Configure(flagVerbose, nil)
		},
	}
	rootCmd.PersistentFlags().StringArrayVarP(&flagPaths, "path", "p", nil, "package search directory (repeatable)")
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "package store database")
	rootCmd.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "increase log verbosity")

	rootCmd.AddCommand(runCmd(), disCmd(), storeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newVM builds a VM from flags, falling back to the nearest tern.toml.
func newVM() (*vm.VM, error) {
	paths := flagPaths
	store := flagStore
	if len(paths) == 0 {
		if m, err := manifest.FindAndLoad("."); err == nil && m != nil {
			paths = m.SearchPaths()
			if store == "" {
				store = m.StorePath()
			}
		}
	}
	opts := []vm.Option{vm.WithSearchPaths(paths...)}
	if store != "" {
		s, err := vm.OpenPackageStore(store)
		if err != nil {
			return nil, err
		}
		opts = append(opts, vm.WithPackageStore(s))
	}
	return vm.NewVM(opts...)
}

func runCmd() *cobra.Command {
	var entry string
	cmd := &cobra.Command{
		Use:   "run <package>",
		Short: "Load a package and invoke its entry function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			machine, err := newVM()
			if err != nil {
				return err
			}
			defer machine.Close()

			name, err := machine.NameFromSource(args[0])
			if err != nil {
				return err
			}
			pkg, err := machine.LoadPackage(name)
			if err != nil {
				return err
			}

			fn := pkg.EntryFunction()
			if entry != "" {
				entryName, err := machine.NameFromSource(entry)
				if err != nil {
					return err
				}
				fn = pkg.FindFunction(entryName)
			}
			if fn == nil {
				return fmt.Errorf("package %s has no entry function", pkg.Name())
			}

			result, err := fn.CallForI64()
			if err != nil {
				// An uncaught exception surfaces as a non-zero exit.
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Println(result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&entry, "entry", "e", "", "entry function source name")
	return cmd
}

func disCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dis <file.tpkg>",
		Short: "Disassemble every function of a package file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			machine, err := vm.NewVM()
			if err != nil {
				return err
			}
			defer machine.Close()
			pkg, err := machine.LoadPackageFromFile(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("package %s %s\n", pkg.Name(), pkg.Version())
			for _, fn := range pkg.Functions() {
				fmt.Printf("\nfunction %s\n", fn)
				fmt.Print(vm.Disassemble(fn.Instructions()))
			}
			return nil
		},
	}
}

func storeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the package store",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "put <file.tpkg>",
			Short: "Add a package file to the store",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if flagStore == "" {
					return fmt.Errorf("--store is required")
				}
				s, err := vm.OpenPackageStore(flagStore)
				if err != nil {
					return err
				}
				defer s.Close()
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				hash, err := s.Put(data)
				if err != nil {
					return err
				}
				fmt.Println(hash)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored package hashes",
			RunE: func(cmd *cobra.Command, args []string) error {
				if flagStore == "" {
					return fmt.Errorf("--store is required")
				}
				s, err := vm.OpenPackageStore(flagStore)
				if err != nil {
					return err
				}
				defer s.Close()
				hashes, err := s.Hashes()
				if err != nil {
					return err
				}
				for _, h := range hashes {
					fmt.Println(h)
				}
				return nil
			},
		},
	)
	return cmd
}
