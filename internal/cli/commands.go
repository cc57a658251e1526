// Package cli implements the localmesh command line: pulling model weights,
// reporting their status, prewarming the shared store and running a prompt
// through a model agent.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/localmesh/agent"
	"github.com/hupe1980/localmesh/config"
	"github.com/hupe1980/localmesh/core"
	"github.com/hupe1980/localmesh/model"
	"github.com/hupe1980/localmesh/runner"
	"github.com/hupe1980/localmesh/store"
)

// Options configures the command tree.
type Options struct {
	// LocalFactory constructs "local" models from downloaded weights. The
	// binary links no inference engine, so it defaults to model.MockFactory.
	LocalFactory model.Factory
}

type rootFlags struct {
	configPath string
	logLevel   string
	jsonOutput bool
}

// NewRootCommand creates the localmesh command tree.
//
// Commands provided:
//   - pull <model|slug>...
//   - status [--json]
//   - prewarm [<model>...]
//   - run <model> <prompt> [--instruction] [--namespace] [--max-tokens]
func NewRootCommand(optFns ...func(o *Options)) *cobra.Command {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:          "localmesh",
		Short:        "Share local models between agents",
		Long:         "Download model weights, load them once into a shared store and stream agent output.",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "localmesh.yaml", "Path to the YAML config file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override logger.level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "Output in JSON format")

	cmd.AddCommand(pullCmd(flags, opts))
	cmd.AddCommand(statusCmd(flags, opts))
	cmd.AddCommand(prewarmCmd(flags, opts))
	cmd.AddCommand(runCmd(flags, opts))

	return cmd
}

// withApp loads the config, builds the app for the duration of fn and
// tears it down afterwards.
func withApp(cmd *cobra.Command, flags *rootFlags, opts Options, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if flags.logLevel != "" {
		cfg.Logger.Level = flags.logLevel
	}

	a, err := newApp(ctx, cfg, opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if cerr := a.close(closeCtx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(ctx, a)
}

func pullCmd(flags *rootFlags, opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "pull <model|slug>...",
		Short: "Download model weights into the models directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, opts, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				for _, arg := range args {
					slug := a.slug(arg)
					if a.dir.IsPersisted(slug) {
						fmt.Fprintf(out, "%s: already present\n", slug)
						continue
					}

					task := a.dir.StartOrAttach(slug)
					select {
					case <-task.Done():
					case <-ctx.Done():
						task.Cancel()
						return ctx.Err()
					}
					if err := task.Err(); err != nil {
						return fmt.Errorf("pull %s: %w", slug, err)
					}
					fmt.Fprintf(out, "%s: pulled to %s\n", slug, a.dir.Path(slug))
				}
				return nil
			})
		},
	}
}

type modelStatus struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Slug     string `json:"slug,omitempty"`
	State    string `json:"state"`
	Path     string `json:"path,omitempty"`
}

func statusCmd(flags *rootFlags, opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the download state of every configured model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, opts, func(_ context.Context, a *app) error {
				statuses := make([]modelStatus, 0, len(a.cfg.Models))
				for _, m := range a.cfg.Models {
					st := modelStatus{Name: m.Name, Provider: m.Provider, State: "remote"}
					if m.Provider == "local" {
						st.Slug = m.Slug
						st.Path = a.dir.Path(m.Slug)
						switch {
						case a.dir.IsPersisted(m.Slug):
							st.State = "present"
						case a.dir.InProgressElsewhere(m.Slug):
							st.State = "downloading"
						default:
							st.State = "missing"
						}
					}
					statuses = append(statuses, st)
				}
				return outputStatus(cmd.OutOrStdout(), statuses, flags.jsonOutput)
			})
		},
	}
}

func outputStatus(w io.Writer, statuses []modelStatus, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPROVIDER\tSLUG\tSTATE")
	for _, st := range statuses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Name, st.Provider, st.Slug, st.State)
	}
	return tw.Flush()
}

func prewarmCmd(flags *rootFlags, opts Options) *cobra.Command {
	return &cobra.Command{
		Use:   "prewarm [<model>...]",
		Short: "Load models into the shared store",
		Long:  "Load the named models (all configured models by default) and report the store state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, opts, func(ctx context.Context, a *app) error {
				names := args
				if len(names) == 0 {
					for _, m := range a.cfg.Models {
						names = append(names, m.Name)
					}
				}

				loaders := make([]model.Loader, 0, len(names))
				for _, name := range names {
					l, err := a.loader(name)
					if err != nil {
						return err
					}
					loaders = append(loaders, l)
				}

				prewarmErr := a.mesh.Prewarm(ctx, loaders...)

				if s, ok := a.mesh.Store().(*store.Store); ok {
					tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "SLUG\tSTATE")
					for _, e := range s.Entries() {
						fmt.Fprintf(tw, "%s\t%s\n", e.Slug, e.State)
					}
					if err := tw.Flush(); err != nil {
						return err
					}
				}
				return prewarmErr
			})
		},
	}
}

func runCmd(flags *rootFlags, opts Options) *cobra.Command {
	var (
		instruction string
		namespace   string
		maxTokens   int
	)

	cmd := &cobra.Command{
		Use:   "run <model> <prompt>",
		Short: "Stream a model completion for a prompt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, opts, func(ctx context.Context, a *app) error {
				loader, err := a.loader(args[0])
				if err != nil {
					return err
				}

				a.mesh.RegisterAgent(agent.NewModelAgent("run", loader, func(o *agent.ModelAgentOptions) {
					if instruction != "" {
						o.Instruction = agent.NewInstructionFromText(instruction)
					}
					o.Options.MaxTokens = maxTokens
				}))

				inv, err := a.mesh.Invoke(ctx, "run", args[1], func(o *runner.RunOptions) {
					if namespace != "" {
						o.Env = core.Environment{}.WithNamespace(namespace)
					}
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				r := inv.Stream.Tokens()
				for {
					tok, err := r.Next(ctx)
					if errors.Is(err, io.EOF) {
						break
					}
					if err != nil {
						inv.Cancel()
						return err
					}
					fmt.Fprint(out, tok.Text)
				}
				fmt.Fprintln(out)

				_, err = inv.Wait(ctx)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&instruction, "instruction", "i", "", "Instruction prepended to the prompt")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Namespace of the invocation")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Override inference.max_tokens")
	return cmd
}
