package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/faredeal/accessctl/internal/accessctl/types"
	"github.com/faredeal/accessctl/internal/config"
)

// withApp builds the service for a single offline command and tears it down
// afterwards.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if c.cfg.Backend == config.BackendMemory {
		c.logger.Warn("memory backend selected; changes will not outlive this command")
	}
	a, err := buildApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			c.logger.Warn("close", zap.Error(err))
		}
	}()
	return fn(ctx, a)
}

func (c *cli) actorOrDefault() types.Actor {
	id := strings.TrimSpace(c.actor)
	if id == "" {
		id = "cli"
	}
	return types.Actor{ID: id, UserAgent: "accessctl-cli"}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSettingsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the current access settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				s, err := a.svc.Settings(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), s)
			})
		},
	}
}

func newToggleGlobalCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle-global",
		Short: "Flip the global employee access switch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				s, err := a.svc.ToggleGlobalAccess(ctx, c.actorOrDefault())
				if err != nil {
					return err
				}
				state := "disabled"
				if s.GlobalAccessEnabled {
					state = "enabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "global access %s (version %d)\n", state, s.Version)
				return nil
			})
		},
	}
}

func newSetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "set <employee-id> <active|disabled>",
		Short: "Set the access override for one employee",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				s, err := a.svc.SetEntityAccess(ctx, args[0], types.Status(args[1]), c.actorOrDefault())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (version %d)\n", args[0], s.EffectiveStatus(args[0]), s.Version)
				return nil
			})
		},
	}
}

func newBulkCmd(c *cli) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "bulk <enable|disable> <employee-id>...",
		Short: "Apply one override to many employees at once",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.svc.BulkUpdate(ctx, types.BulkOperationKind(args[0]), args[1:], c.actorOrDefault(), reason)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the operation")
	return cmd
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <employee-id>",
		Short: "Print the effective access status of an employee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				st, err := a.svc.EffectiveStatus(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
}

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print access statistics across the employee directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				st, err := a.svc.Statistics(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

func newAuditCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the most recent audit entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				entries, err := a.svc.AuditLog(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")
	return cmd
}

func newExportCmd(c *cli) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the configuration and recent audit log as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				doc, err := a.svc.Export(ctx)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					return printJSON(cmd.OutOrStdout(), doc)
				}
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				if err := printJSON(f, doc); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newImportCmd(c *cli) *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the configuration with a previously exported document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var r io.Reader = cmd.InOrStdin()
			if in != "" && in != "-" {
				f, err := os.Open(in)
				if err != nil {
					return fmt.Errorf("open %s: %w", in, err)
				}
				defer f.Close()
				r = f
			}
			var doc types.Export
			if err := json.NewDecoder(r).Decode(&doc); err != nil {
				return fmt.Errorf("decode import: %w", err)
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.svc.Import(ctx, doc, c.actorOrDefault()); err != nil {
					return err
				}
				s, err := a.svc.Settings(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported configuration (version %d, %d overrides)\n", s.Version, len(s.Overrides))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "input file (default stdin)")
	return cmd
}

func newResetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore default settings and clear the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				s, err := a.svc.Reset(ctx, c.actorOrDefault())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "settings reset (version %d)\n", s.Version)
				return nil
			})
		},
	}
}
