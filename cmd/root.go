package cmd

import (
	"fmt"

	"github.com/grovetools/core/cli"
	"github.com/grovetools/jsonset/pkg/setter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type rootOptions struct {
	dryRun  bool
	lenient bool
}

func (o *rootOptions) addFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.dryRun, "dry-run", false, "Print the resulting document instead of writing it")
	fs.BoolVar(&o.lenient, "lenient", false, "Accept comments and trailing commas in the existing document")
}

// NewRootCmd builds the jsonset command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := cli.NewStandardCommand("jsonset", "Set a key in a JSON file, preserving key order")
	cmd.Use = "jsonset <path> <key> <value>"
	cmd.Long = `Set a single key in the JSON object stored at <path>.

<value> must be JSON text: strings need their own quotes. If <path> does not
exist it is created, along with any missing parent directories. Existing keys
keep their order; a new key is appended at the end. Content that cannot be read
as a JSON object is replaced by an empty object before the key is set.`

	cmd.Example = `  # Add a number
  jsonset config.json retries 3

  # Add a string
  jsonset config.json name '"grove"'

  # Preview the result without writing
  jsonset --dry-run config.json tags '["a","b"]'

  # Report what changed; with --dry-run the document is embedded
  jsonset --json config.json retries 5`

	cmd.Args = cobra.ExactArgs(3)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	opts.addFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runSet(cmd, opts, setter.Config{
			Path:    args[0],
			Key:     args[1],
			Value:   args[2],
			Lenient: opts.lenient,
		})
	}

	return cmd
}

func runSet(cmd *cobra.Command, opts *rootOptions, cfg setter.Config) error {
	service := setter.NewService(opts.dryRun)

	result, err := service.Apply(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cli.GetOptions(cmd).JSONOutput {
		summary, err := result.MarshalSummary(opts.dryRun)
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
		if _, err := out.Write(summary); err != nil {
			return fmt.Errorf("failed to print summary: %w", err)
		}
		return nil
	}

	if opts.dryRun {
		if _, err := out.Write(result.Output); err != nil {
			return fmt.Errorf("failed to print document: %w", err)
		}
	}

	return nil
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
